package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

type fenceFormat struct {
	fence     string
	unmarshal func([]byte, any) error
}

var fences = []fenceFormat{
	{fence: "---", unmarshal: yaml.Unmarshal},
	{fence: "+++", unmarshal: toml.Unmarshal},
}

// splitFrontMatter separates a leading YAML (---) or TOML (+++) block from
// the body. found is false when the text has no complete block; err is set
// when a block exists but cannot be decoded into a map.
func splitFrontMatter(text string) (meta map[string]any, body string, found bool, err error) {
	text = strings.TrimPrefix(text, "\ufeff")
	for _, f := range fences {
		if !strings.HasPrefix(text, f.fence+"\n") && text != f.fence {
			continue
		}
		rest := strings.TrimPrefix(text, f.fence)
		rest = strings.TrimPrefix(rest, "\n")
		block, after, ok := cutFence(rest, f.fence)
		if !ok {
			return nil, text, false, nil
		}
		meta = make(map[string]any)
		if strings.TrimSpace(block) != "" {
			if err := f.unmarshal([]byte(block), &meta); err != nil {
				return nil, text, true, fmt.Errorf("decoding %s front-matter: %w", f.fence, err)
			}
		}
		return meta, after, true, nil
	}
	return nil, text, false, nil
}

// cutFence finds the closing fence line in rest and returns the block before
// it and the text after its line break.
func cutFence(rest, fence string) (block, after string, ok bool) {
	if strings.HasPrefix(rest, fence+"\n") || rest == fence {
		return "", strings.TrimPrefix(strings.TrimPrefix(rest, fence), "\n"), true
	}
	marker := "\n" + fence
	offset := 0
	for {
		i := strings.Index(rest[offset:], marker)
		if i < 0 {
			return "", "", false
		}
		i += offset
		end := i + len(marker)
		if end == len(rest) || rest[end] == '\n' {
			after = rest[end:]
			after = strings.TrimPrefix(after, "\n")
			return rest[:i], after, true
		}
		offset = end
	}
}

// metaString returns a trimmed string value from front-matter.
func metaString(meta map[string]any, key string) string {
	v, ok := meta[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}

// metaInt accepts integers, whole floats and numeric strings.
func metaInt(meta map[string]any, key string) (int, bool) {
	switch v := meta[key].(type) {
	case int:
		return v, v > 0
	case int64:
		return int(v), v > 0
	case uint64:
		return int(v), v > 0
	case float64:
		return int(v), v > 0 && v == float64(int(v))
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, false
		}
		return n, n > 0
	default:
		return 0, false
	}
}
