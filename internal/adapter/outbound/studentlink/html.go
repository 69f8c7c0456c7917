package studentlink

import (
	"strings"

	"golang.org/x/net/html"
)

// formInput is one <input> element.
type formInput struct {
	Type  string
	Name  string
	Value string
}

// formInputs returns every <input> element of body in document order.
// Attribute values are unescaped by the tokenizer.
func formInputs(body string) []formInput {
	var out []formInput
	z := html.NewTokenizer(strings.NewReader(body))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return out
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if string(name) != "input" || !hasAttr {
				continue
			}
			var in formInput
			for {
				key, val, more := z.TagAttr()
				switch string(key) {
				case "type":
					in.Type = strings.ToLower(string(val))
				case "name":
					in.Name = string(val)
				case "value":
					in.Value = string(val)
				}
				if !more {
					break
				}
			}
			out = append(out, in)
		}
	}
}

// inputValue returns the value of the first input named name.
func inputValue(inputs []formInput, name string) (string, bool) {
	for _, in := range inputs {
		if in.Name == name {
			return in.Value, true
		}
	}
	return "", false
}
