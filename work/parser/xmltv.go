package parser

import (
	"time"

	regexp "github.com/grafana/regexp"
)

// XMLTVTimeLayout is the XMLTV date format with a numeric zone offset.
const XMLTVTimeLayout = "20060102150405 -0700"

var xmltvTimestamp = regexp.MustCompile(`(\d{14}) ([+-]\d{4})`)

// LocalizeXMLTV rewrites every "YYYYMMDDhhmmss ±hhmm" timestamp in an XMLTV
// document into loc. Values that fail to parse are left untouched. The number
// of rewritten timestamps is returned with the document.
func LocalizeXMLTV(doc []byte, loc *time.Location) ([]byte, int) {
	converted := 0
	out := xmltvTimestamp.ReplaceAllFunc(doc, func(match []byte) []byte {
		t, err := time.Parse(XMLTVTimeLayout, string(match))
		if err != nil {
			return match
		}
		converted++
		return []byte(t.In(loc).Format(XMLTVTimeLayout))
	})
	return out, converted
}
