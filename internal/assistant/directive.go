package assistant

import (
	"encoding/json"
	"strconv"
	"strings"
)

// DirectiveKind enumerates the actions the model can request
type DirectiveKind string

const (
	DirectiveFileComplaint DirectiveKind = "FILE_COMPLAINT"
	DirectiveLocateMe      DirectiveKind = "LOCATE_ME"
	DirectivePincodeSearch DirectiveKind = "PINCODE_SEARCH"
	DirectivePincodeLookup DirectiveKind = "PINCODE_LOOKUP"
	DirectiveUnknown       DirectiveKind = "UNKNOWN"
)

// Directive is a decoded action. Pincode is set for PINCODE_SEARCH and Area
// for PINCODE_LOOKUP.
type Directive struct {
	Kind    DirectiveKind
	Pincode string
	Area    string
	// Raw is the action name as sent, kept for logs when Kind is unknown
	Raw string
}

type rawDirective struct {
	Action  string          `json:"action"`
	Pincode json.RawMessage `json:"pincode"`
	Area    string          `json:"area"`
}

// DecodeDirective turns a raw action object into a Directive. Anything
// malformed decodes to DirectiveUnknown.
func DecodeDirective(data []byte) Directive {
	var raw rawDirective
	if err := json.Unmarshal(data, &raw); err != nil {
		return Directive{Kind: DirectiveUnknown}
	}

	d := Directive{Raw: raw.Action}
	switch DirectiveKind(strings.ToUpper(strings.TrimSpace(raw.Action))) {
	case DirectiveFileComplaint:
		d.Kind = DirectiveFileComplaint
	case DirectiveLocateMe:
		d.Kind = DirectiveLocateMe
	case DirectivePincodeSearch:
		pin, ok := decodePincode(raw.Pincode)
		if !ok {
			return Directive{Kind: DirectiveUnknown, Raw: raw.Action}
		}
		d.Kind = DirectivePincodeSearch
		d.Pincode = pin
	case DirectivePincodeLookup:
		area := strings.TrimSpace(raw.Area)
		if area == "" {
			return Directive{Kind: DirectiveUnknown, Raw: raw.Action}
		}
		d.Kind = DirectivePincodeLookup
		d.Area = area
	default:
		d.Kind = DirectiveUnknown
	}
	return d
}

// decodePincode accepts a JSON string or a whole JSON number
func decodePincode(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		return s, s != ""
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", false
	}
	i, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil || i <= 0 {
		return "", false
	}
	return strconv.FormatInt(i, 10), true
}
