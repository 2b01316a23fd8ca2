package builder

import (
	"encoding/xml"
	"fmt"
	"io"
)

// ioXML is a <input>/<output> child of an <algorithm> element (spec.md §6
// "<algorithm ...> with nested <input type="…" channel="…">, <output
// type="…" channel="…">").
type ioXML struct {
	Type    string `xml:"type,attr"`
	Channel string `xml:"channel,attr"`
}

// paramXML is a <param> child of an <algorithm> element.
type paramXML struct {
	Name  string `xml:"name,attr"`
	Type  string `xml:"type,attr"`
	Value string `xml:"value,attr"`
}

type algorithmXML struct {
	DLL       string     `xml:"dll,attr"`
	Name      string     `xml:"name,attr"`
	Scheduler string     `xml:"scheduler,attr"`
	Priority  string     `xml:"priority,attr"`
	Threaded  bool       `xml:"threaded,attr"`
	Inputs    []ioXML    `xml:"input"`
	Outputs   []ioXML    `xml:"output"`
	Params    []paramXML `xml:"param"`
}

type fileInXML struct {
	Type            string `xml:"type,attr"`
	Path            string `xml:"path,attr"`
	SignalEndOfFile bool   `xml:"signalEndOfFile,attr"`
}

type fileOutXML struct {
	Type                   string `xml:"type,attr"`
	Path                   string `xml:"path,attr"`
	AcquireBasisTimeStamps bool   `xml:"acquireBasisTimeStamps,attr"`
}

type publisherXML struct {
	Name       string `xml:"name,attr"`
	Type       string `xml:"type,attr"`
	Transport  string `xml:"transport,attr"`
	Interface  string `xml:"interface,attr"`
	Port       int    `xml:"port,attr"`
	BufferSize int    `xml:"bufferSize,attr"`
}

type subscriberXML struct {
	Name       string `xml:"name,attr"`
	Type       string `xml:"type,attr"`
	Transport  string `xml:"transport,attr"`
	Interface  string `xml:"interface,attr"`
	BufferSize int    `xml:"bufferSize,attr"`
}

type vmeXML struct {
	Host       string `xml:"host,attr"`
	Port       int    `xml:"port,attr"`
	BufferSize int    `xml:"bufferSize,attr"`
}

type tspiXML struct {
	Host string `xml:"host,attr"`
	Port int    `xml:"port,attr"`
}

// element is one child of <stream> in document order, exactly one of
// whose fields is non-nil. Parsing element-by-element off the token
// stream (rather than grouping by xml struct tag, which loses ordering
// across distinct tag names) is what lets the builder honor spec.md
// §4.11's "for each child element in document order".
type element struct {
	kind       string
	algorithm  *algorithmXML
	filein     *fileInXML
	fileout    *fileOutXML
	publisher  *publisherXML
	subscriber *subscriberXML
	vme        *vmeXML
	tspi       *tspiXML
}

// parseStream decodes a <stream name="…"> document into its name and
// ordered child elements.
func parseStream(r io.Reader) (name string, elems []element, err error) {
	dec := xml.NewDecoder(r)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", nil, fmt.Errorf("builder: xml token: %w", err)
		}

		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch se.Name.Local {
		case "stream":
			for _, a := range se.Attr {
				if a.Name.Local == "name" {
					name = a.Value
				}
			}
		case "algorithm":
			var v algorithmXML
			if err := dec.DecodeElement(&v, &se); err != nil {
				return "", nil, fmt.Errorf("builder: decode <algorithm>: %w", err)
			}
			elems = append(elems, element{kind: "algorithm", algorithm: &v})
		case "filein":
			var v fileInXML
			if err := dec.DecodeElement(&v, &se); err != nil {
				return "", nil, fmt.Errorf("builder: decode <filein>: %w", err)
			}
			elems = append(elems, element{kind: "filein", filein: &v})
		case "fileout":
			var v fileOutXML
			if err := dec.DecodeElement(&v, &se); err != nil {
				return "", nil, fmt.Errorf("builder: decode <fileout>: %w", err)
			}
			elems = append(elems, element{kind: "fileout", fileout: &v})
		case "publisher":
			var v publisherXML
			if err := dec.DecodeElement(&v, &se); err != nil {
				return "", nil, fmt.Errorf("builder: decode <publisher>: %w", err)
			}
			elems = append(elems, element{kind: "publisher", publisher: &v})
		case "subscriber":
			var v subscriberXML
			if err := dec.DecodeElement(&v, &se); err != nil {
				return "", nil, fmt.Errorf("builder: decode <subscriber>: %w", err)
			}
			elems = append(elems, element{kind: "subscriber", subscriber: &v})
		case "vme":
			var v vmeXML
			if err := dec.DecodeElement(&v, &se); err != nil {
				return "", nil, fmt.Errorf("builder: decode <vme>: %w", err)
			}
			elems = append(elems, element{kind: "vme", vme: &v})
		case "tspi":
			var v tspiXML
			if err := dec.DecodeElement(&v, &se); err != nil {
				return "", nil, fmt.Errorf("builder: decode <tspi>: %w", err)
			}
			elems = append(elems, element{kind: "tspi", tspi: &v})
		}
	}

	return name, elems, nil
}
