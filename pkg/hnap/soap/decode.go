package soap

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"github.com/jmerrifield20/hnap/pkg/hnap"
)

// Decode classifies and parses a device reply.
//
//   - a SOAP envelope yields Response{SOAP: true} with Body set to the first
//     element inside soap:Body;
//   - an HTML page, or XML whose root is not an Envelope, yields a plain
//     Response{SOAP: false};
//   - anything else, including a SOAP Fault, is a MalformedResponseError.
func Decode(action, contentType string, raw []byte) (*hnap.Response, error) {
	if looksLikeHTML(contentType, raw) {
		return &hnap.Response{Action: action, Raw: raw}, nil
	}

	root, err := parseTree(raw)
	if err != nil {
		return nil, &hnap.MalformedResponseError{Action: action, Reason: "invalid XML", Err: err}
	}
	if root.Name != "Envelope" {
		return &hnap.Response{Action: action, Body: root, Raw: raw}, nil
	}

	body := root.Child("Body")
	if body == nil {
		return nil, &hnap.MalformedResponseError{Action: action, Reason: "envelope has no Body"}
	}
	if fault := body.Child("Fault"); fault != nil {
		msg, _ := fault.Value("faultstring")
		return nil, &hnap.MalformedResponseError{Action: action, Reason: "SOAP fault: " + msg}
	}
	if len(body.Children) == 0 {
		return nil, &hnap.MalformedResponseError{Action: action, Reason: "empty Body"}
	}
	return &hnap.Response{Action: action, SOAP: true, Body: body.Children[0], Raw: raw}, nil
}

func looksLikeHTML(contentType string, raw []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "html") {
		return true
	}
	head := bytes.ToLower(bytes.TrimSpace(raw))
	if len(head) > 512 {
		head = head[:512]
	}
	return bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html"))
}

// parseTree builds an element tree keyed by local names.
func parseTree(raw []byte) (*hnap.Element, error) {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	var stack []*hnap.Element
	var root *hnap.Element

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch tok := tok.(type) {
		case xml.StartElement:
			el := &hnap.Element{Name: tok.Name.Local}
			if len(stack) == 0 {
				if root != nil {
					return nil, errors.New("multiple root elements")
				}
				root = el
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, el)
			}
			stack = append(stack, el)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].Text += string(tok)
			}
		}
	}
	if root == nil {
		return nil, errors.New("empty document")
	}
	if len(stack) != 0 {
		return nil, io.ErrUnexpectedEOF
	}
	return root, nil
}
