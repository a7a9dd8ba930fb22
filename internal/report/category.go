package report

import (
	"regexp"
	"strings"
)

// CategoryInfo describes one of the archive's fixed categories.
type CategoryInfo struct {
	Category
	Icon        string `json:"icon"`
	Description string `json:"description"`
}

// Categories is the archive's category table in display order.
var Categories = []CategoryInfo{
	{Category{"shi-zheng-yu-guo-ji", "时政与国际"}, "globe", "国际政治、外交政策、国际关系分析"},
	{Category{"she-hui-yu-fa-zhi", "社会与法治"}, "scale", "社会热点、法律法规、民生话题"},
	{Category{"yu-le-yu-ming-xing", "娱乐与明星"}, "star", "娱乐资讯、明星动态、文化现象"},
	{Category{"xing-ye-yu-gong-si", "行业与公司"}, "building", "行业分析、企业动态、商业资讯"},
	{Category{"lu-you-yu-chu-xing", "旅游与出行"}, "plane", "旅游资讯、交通出行、地方文化"},
}

var (
	slugByDisplay = make(map[string]string, len(Categories))
	displayBySlug = make(map[string]string, len(Categories))
	whitespaceRun = regexp.MustCompile(`\s+`)
)

func init() {
	for _, c := range Categories {
		slugByDisplay[c.Display] = c.Slug
		displayBySlug[c.Slug] = c.Display
	}
}

// SlugFor maps a display name to its slug. Unknown names are lower-cased
// with whitespace runs replaced by hyphens.
func SlugFor(display string) string {
	display = strings.TrimSpace(display)
	if slug, ok := slugByDisplay[display]; ok {
		return slug
	}
	return whitespaceRun.ReplaceAllString(strings.ToLower(display), "-")
}

// DisplayFor maps a slug to its display name, falling back to the slug.
func DisplayFor(slug string) string {
	if display, ok := displayBySlug[slug]; ok {
		return display
	}
	return slug
}

// LookupCategory returns the table entry for slug.
func LookupCategory(slug string) (CategoryInfo, bool) {
	for _, c := range Categories {
		if c.Slug == slug {
			return c, true
		}
	}
	return CategoryInfo{}, false
}
