package registry

import (
	"bytes"
	"encoding/xml"
)

// xmlDevice is the on-wire shape of the device configuration document
// described in spec.md §6: a device identity element plus an ordered
// list of assembly elements, each carrying member elements.
type xmlDevice struct {
	XMLName    xml.Name     `xml:"device"`
	Identity   xmlIdentity  `xml:"identity"`
	Assemblies []xmlAssembly `xml:"assemblies>assembly"`
}

type xmlIdentity struct {
	Name         string `xml:"name,attr"`
	Vendor       string `xml:"vendor,attr"`
	ProductCode  string `xml:"product_code,attr"`
	Revision     string `xml:"revision,attr"`
	SerialNumber string `xml:"serial_number,attr"`
}

type xmlAssembly struct {
	Alias      string      `xml:"alias,attr"`
	ClassID    uint16      `xml:"class_id,attr"`
	InstanceID uint16      `xml:"instance_id,attr"`
	Direction  string      `xml:"direction,attr"`
	Size       string      `xml:"size,attr"` // optional; empty means unspecified
	Members    []xmlMember `xml:"member"`
}

type xmlMember struct {
	Name        string `xml:"name,attr"`
	Offset      int    `xml:"offset,attr"`
	Size        int    `xml:"size,attr"`
	DataType    string `xml:"datatype,attr"`
	Direction   string `xml:"direction,attr"`
	Description string `xml:"description,attr"`
}

// knownElements is every element name this schema recognizes, used to
// warn about (rather than reject) unrecognized elements per spec.md
// §6: "robust to unknown elements, ignored with a warning."
var knownElements = map[string]bool{
	"device":     true,
	"identity":   true,
	"assemblies": true,
	"assembly":   true,
	"member":     true,
}

// unknownElementNames walks the raw token stream looking for start
// elements this schema does not recognize. It runs independently of
// the struct-tag decode above, which silently ignores anything it
// doesn't map to a field.
func unknownElementNames(data []byte) []string {
	dec := xml.NewDecoder(bytes.NewReader(data))
	seen := map[string]bool{}
	var unknown []string
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		name := se.Name.Local
		if !knownElements[name] && !seen[name] {
			seen[name] = true
			unknown = append(unknown, name)
		}
	}
	return unknown
}
