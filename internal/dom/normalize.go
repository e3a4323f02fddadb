package dom

import (
	"regexp"
	"strings"
	"sync"
)

var (
	// scriptBlock matches a whole script element, across lines.
	scriptBlock = regexp.MustCompile(`(?is)<script.*?</script>`)

	// xmlTag matches processing-instruction-like tags such as <?xml:namespace ...>.
	xmlTag = regexp.MustCompile(`<\?xml:.*?>`)

	// emptyStyle matches an empty style attribute.
	emptyStyle = regexp.MustCompile(`(?i)\sstyle=""`)
)

// attributePatterns caches the compiled pattern of each filtered attribute.
var attributePatterns sync.Map // map[string]*regexp.Regexp

func attributePattern(name string) *regexp.Regexp {
	key := strings.ToLower(name)
	if p, ok := attributePatterns.Load(key); ok {
		return p.(*regexp.Regexp) //nolint:forcetypeassert // only *regexp.Regexp is stored
	}
	p := regexp.MustCompile(`(?i)\s` + regexp.QuoteMeta(name) + `="[^"]*"`)
	actual, _ := attributePatterns.LoadOrStore(key, p)
	return actual.(*regexp.Regexp) //nolint:forcetypeassert // only *regexp.Regexp is stored
}

// Normalize returns the canonical fingerprint of raw markup.
//
// The steps run in a fixed order: script blocks are removed, then
// <?xml:...> tags, then every attribute named in filterAttributes (each
// removal applies to the output of the previous one), and finally empty
// style attributes. Attribute names match case-insensitively.
//
// Normalize never fails and is idempotent on its own output.
func Normalize(raw string, filterAttributes []string) string {
	out := scriptBlock.ReplaceAllString(raw, "")
	out = xmlTag.ReplaceAllString(out, "")
	for _, attr := range filterAttributes {
		if attr == "" {
			continue
		}
		out = attributePattern(attr).ReplaceAllString(out, "")
	}
	return emptyStyle.ReplaceAllString(out, "")
}
