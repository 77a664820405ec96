package render

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cast"

	"github.com/Saloed/GalaxyAPI/internal/assemble"
	"github.com/Saloed/GalaxyAPI/internal/endpoint"
	"github.com/Saloed/GalaxyAPI/internal/engine"
)

// ErrorRoot is the root element of XML error bodies.
const ErrorRoot = "root"

type targets interface {
	Get(name string) (*endpoint.Endpoint, bool)
}

type xmlWriter struct {
	enc     *xml.Encoder
	targets targets
}

// WriteXML renders result with the endpoint name as root element. Page
// values become root attributes; xml_attribute fields become attributes of
// their object; an unnamed object takes its parent's element name.
func WriteXML(w io.Writer, result *engine.Result, links Links) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	x := &xmlWriter{enc: xml.NewEncoder(w)}
	x.enc.Indent("", "  ")
	if result.Registry != nil {
		x.targets = result.Registry
	}

	ep := result.Endpoint
	var attrs []xml.Attr
	if result.Page != nil {
		attrs = []xml.Attr{
			attr("has_next", strconv.FormatBool(result.Page.HasNext)),
			attr("has_prev", strconv.FormatBool(result.Page.HasPrev)),
			attr("prev", links.Prev),
			attr("next", links.Next),
		}
	}
	if err := x.start(ep.Name, attrs); err != nil {
		return err
	}
	if err := x.endpoint(result.Data, ep); err != nil {
		return err
	}
	if err := x.end(ep.Name); err != nil {
		return err
	}
	if err := x.enc.Flush(); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// WriteXMLError writes <root><error>message</error></root>.
func WriteXMLError(w io.Writer, message string) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	x := &xmlWriter{enc: xml.NewEncoder(w)}
	x.enc.Indent("", "  ")
	if err := x.start(ErrorRoot, nil); err != nil {
		return err
	}
	if err := x.text("error", message); err != nil {
		return err
	}
	if err := x.end(ErrorRoot); err != nil {
		return err
	}
	if err := x.enc.Flush(); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func (x *xmlWriter) endpoint(data any, ep *endpoint.Endpoint) error {
	if items, ok := data.([]any); ok {
		for _, item := range items {
			if err := x.node(item, ep.Name, ep.Schema); err != nil {
				return err
			}
		}
		return nil
	}
	return x.node(data, ep.Name, ep.Schema)
}

func (x *xmlWriter) node(item any, parent string, n endpoint.Node) error {
	switch node := n.(type) {
	case *endpoint.Field:
		if values, ok := item.([]any); ok && node.Many {
			for _, v := range values {
				if err := x.text(parent, valueText(v)); err != nil {
					return err
				}
			}
			return nil
		}
		return x.text(parent, valueText(item))
	case *endpoint.Select:
		if err := x.start(parent, nil); err != nil {
			return err
		}
		if item != nil {
			target, ok := x.lookup(node.Endpoint)
			if !ok {
				return fmt.Errorf("xml: unknown select target %q", node.Endpoint)
			}
			if err := x.endpoint(item, target); err != nil {
				return err
			}
		}
		return x.end(parent)
	case *endpoint.Object:
		name := node.Name
		if name == "" {
			name = parent
		}
		if name == "" {
			name = "item"
		}
		if !node.Many {
			return x.object(node, name, item)
		}
		if err := x.start(parent, nil); err != nil {
			return err
		}
		items, _ := item.([]any)
		for _, element := range items {
			if err := x.object(node, name, element); err != nil {
				return err
			}
		}
		return x.end(parent)
	default:
		return fmt.Errorf("xml: unknown schema node %T", n)
	}
}

func (x *xmlWriter) object(obj *endpoint.Object, name string, item any) error {
	rec, _ := item.(*assemble.Record)
	if rec == nil {
		if err := x.start(name, nil); err != nil {
			return err
		}
		return x.end(name)
	}

	var attrs []xml.Attr
	var elements []endpoint.NamedNode
	for _, child := range obj.Fields {
		if f, ok := child.Node.(*endpoint.Field); ok && f.XMLAttribute {
			v, _ := rec.Get(child.Name)
			attrs = append(attrs, attr(child.Name, valueText(v)))
			continue
		}
		elements = append(elements, child)
	}

	if err := x.start(name, attrs); err != nil {
		return err
	}
	for _, child := range elements {
		v, _ := rec.Get(child.Name)
		if err := x.node(v, child.Name, child.Node); err != nil {
			return err
		}
	}
	return x.end(name)
}

func (x *xmlWriter) lookup(name string) (*endpoint.Endpoint, bool) {
	if x.targets == nil {
		return nil, false
	}
	return x.targets.Get(name)
}

func (x *xmlWriter) start(name string, attrs []xml.Attr) error {
	return x.enc.EncodeToken(xml.StartElement{Name: xml.Name{Local: name}, Attr: attrs})
}

func (x *xmlWriter) end(name string) error {
	return x.enc.EncodeToken(xml.EndElement{Name: xml.Name{Local: name}})
}

func (x *xmlWriter) text(name, value string) error {
	if err := x.start(name, nil); err != nil {
		return err
	}
	if value != "" {
		if err := x.enc.EncodeToken(xml.CharData(value)); err != nil {
			return err
		}
	}
	return x.end(name)
}

func attr(name, value string) xml.Attr {
	return xml.Attr{Name: xml.Name{Local: name}, Value: value}
}

// valueText renders a scalar for XML. NULL is empty.
func valueText(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		s, err := cast.ToStringE(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return s
	}
}
