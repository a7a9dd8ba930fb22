// Command deepresearch is the operator CLI: parse archive documents, search
// the report index, crawl the archive into the store.
package main

func main() {
	Execute()
}
