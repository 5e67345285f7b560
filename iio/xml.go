package iio

import (
	"encoding/xml"
	"io"
)

// the iiod context document, only the parts we use
type xmlContext struct {
	XMLName xml.Name    `xml:"context"`
	Name    string      `xml:"name,attr"`
	Devices []xmlDevice `xml:"device"`
}

type xmlDevice struct {
	ID       string       `xml:"id,attr"`
	Name     string       `xml:"name,attr"`
	Channels []xmlChannel `xml:"channel"`
	Attrs    []xmlAttr    `xml:"attribute"`
}

type xmlChannel struct {
	ID    string    `xml:"id,attr"`
	Type  string    `xml:"type,attr"`
	Attrs []xmlAttr `xml:"attribute"`
}

type xmlAttr struct {
	Name     string `xml:"name,attr"`
	Filename string `xml:"filename,attr"`
}

// ParseDescription decodes the XML document returned by iiod's PRINT command
func ParseDescription(r io.Reader) (Description, error) {
	var doc xmlContext
	dec := xml.NewDecoder(r)
	dec.Strict = false
	if err := dec.Decode(&doc); err != nil {
		return Description{}, err
	}
	desc := Description{Name: doc.Name}
	for _, xd := range doc.Devices {
		di := DeviceInfo{ID: xd.ID, Name: xd.Name}
		for _, xa := range xd.Attrs {
			di.Attrs = append(di.Attrs, xa.Name)
		}
		for _, xc := range xd.Channels {
			ci := ChannelInfo{ID: xc.ID, Output: xc.Type == "output"}
			for _, xa := range xc.Attrs {
				fn := xa.Filename
				if fn == "" {
					fn = xa.Name
				}
				ci.Attrs = append(ci.Attrs, AttrInfo{Name: xa.Name, Filename: fn})
			}
			di.Channels = append(di.Channels, ci)
		}
		desc.Devices = append(desc.Devices, di)
	}
	return desc, nil
}
