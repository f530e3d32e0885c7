package recipe

import "strings"

// Separator of list values carried in a single environment variable. Command
// arguments may contain spaces but never a newline.
const listSep = "\n"

// Encodes a list of arguments as one environment variable value.
func JoinList(items []string) string {
	return strings.Join(items, listSep)
}

// Decodes a value produced by [JoinList]. Empty entries are dropped.
func SplitList(s string) []string {
	var items []string
	for _, item := range strings.Split(s, listSep) {
		if item = strings.TrimRight(item, "\r"); item != "" {
			items = append(items, item)
		}
	}
	return items
}
