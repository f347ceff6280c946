package broker

import "strings"

var statusTable = map[string]string{
	"new":              "new",
	"accepted":         "new",
	"pending_new":      "new",
	"partial_fill":     "partially_filled",
	"partially_filled": "partially_filled",
	"filled":           "filled",
	"canceled":         "canceled",
	"pending_cancel":   "canceled",
	"expired":          "canceled",
	"stopped":          "canceled",
	"rejected":         "rejected",
	"suspended":        "rejected",
	"pending_replace":  "rejected",
}

// NormalizeStatus maps a broker status onto the canonical order lifecycle.
// Unknown values map to "new".
func NormalizeStatus(status string) string {
	if s, ok := statusTable[strings.ToLower(strings.TrimSpace(status))]; ok {
		return s
	}
	return "new"
}
