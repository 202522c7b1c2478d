package hnap

import (
	"strings"
)

// Param is one named action argument.
type Param struct {
	Name  string
	Value string
}

// Params are action arguments in wire order. Devices reject requests whose
// elements are reordered, so a slice is used rather than a map.
type Params []Param

// Get returns the value of the first param called name.
func (p Params) Get(name string) (string, bool) {
	for _, kv := range p {
		if kv.Name == name {
			return kv.Value, true
		}
	}
	return "", false
}

// Headers are extra request headers supplied by the Client.
type Headers map[string]string

// Element is a node of a decoded response document.
type Element struct {
	Name     string
	Text     string
	Children []*Element
}

// Child returns the first direct child called name, or nil.
func (e *Element) Child(name string) *Element {
	if e == nil {
		return nil
	}
	for _, c := range e.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Find returns the first element called name in a depth-first walk that
// includes e itself, or nil.
func (e *Element) Find(name string) *Element {
	if e == nil {
		return nil
	}
	if e.Name == name {
		return e
	}
	for _, c := range e.Children {
		if found := c.Find(name); found != nil {
			return found
		}
	}
	return nil
}

// Value returns the trimmed text of the element found by Find.
func (e *Element) Value(name string) (string, bool) {
	found := e.Find(name)
	if found == nil {
		return "", false
	}
	return strings.TrimSpace(found.Text), true
}

// Texts returns the trimmed text of every direct child called name, or of
// every direct child when name is empty.
func (e *Element) Texts(name string) []string {
	if e == nil {
		return nil
	}
	var out []string
	for _, c := range e.Children {
		if name == "" || c.Name == name {
			out = append(out, strings.TrimSpace(c.Text))
		}
	}
	return out
}

// Map converts the subtree into plain values for JSON/YAML output. Leaves
// become strings, repeated child names become lists.
func (e *Element) Map() any {
	if e == nil {
		return nil
	}
	if len(e.Children) == 0 {
		return strings.TrimSpace(e.Text)
	}
	m := make(map[string]any, len(e.Children))
	for _, c := range e.Children {
		v := c.Map()
		prev, ok := m[c.Name]
		if !ok {
			m[c.Name] = v
			continue
		}
		if list, isList := prev.([]any); isList {
			m[c.Name] = append(list, v)
		} else {
			m[c.Name] = []any{prev, v}
		}
	}
	return m
}

// Response is a decoded device reply.
type Response struct {
	Action string
	// SOAP is false when the device answered with a plain document (an HTML
	// login or redirect page, typically) instead of a SOAP envelope.
	SOAP bool
	// Body is the action response element, e.g. <LoginResponse>.
	Body *Element
	Raw  []byte
}

// Result returns the <ActionResult> value, e.g. "OK" or "success".
func (r *Response) Result() string {
	if r == nil || r.Body == nil {
		return ""
	}
	v, _ := r.Body.Value(r.Action + "Result")
	return v
}

// loginChallenge is the first-stage Login reply.
type loginChallenge struct {
	Challenge string
	PublicKey string
	Cookie    string
}

func decodeLoginChallenge(resp *Response) (*loginChallenge, error) {
	if err := requireSOAP(ActionLogin, resp); err != nil {
		return nil, err
	}
	var out loginChallenge
	for name, dst := range map[string]*string{
		"Challenge": &out.Challenge,
		"PublicKey": &out.PublicKey,
		"Cookie":    &out.Cookie,
	} {
		v, ok := resp.Body.Value(name)
		if !ok || v == "" {
			return nil, &MalformedResponseError{Action: ActionLogin, Reason: "missing " + name}
		}
		*dst = v
	}
	return &out, nil
}

func decodeLoginResult(resp *Response) (string, error) {
	if err := requireSOAP(ActionLogin, resp); err != nil {
		return "", err
	}
	v, ok := resp.Body.Value("LoginResult")
	if !ok {
		return "", &MalformedResponseError{Action: ActionLogin, Reason: "missing LoginResult"}
	}
	return v, nil
}

// decodeDeviceActions extracts action names from the SOAPActions URL list
// of GetDeviceSettings.
func decodeDeviceActions(resp *Response) ([]string, error) {
	if err := requireSOAP(ActionGetDeviceSettings, resp); err != nil {
		return nil, err
	}
	list := resp.Body.Find("SOAPActions")
	if list == nil {
		return nil, &MalformedResponseError{Action: ActionGetDeviceSettings, Reason: "missing SOAPActions"}
	}
	actions := []string{}
	for _, url := range list.Texts("") {
		if name := url[strings.LastIndex(url, "/")+1:]; name != "" {
			actions = append(actions, name)
		}
	}
	return actions, nil
}

// decodeModuleActions extracts the <Action> entries of GetModuleSOAPActions,
// dropping duplicates.
func decodeModuleActions(resp *Response) ([]string, error) {
	if err := requireSOAP(ActionGetModuleSOAPActions, resp); err != nil {
		return nil, err
	}
	list := resp.Body.Find("SOAPActions")
	if list == nil {
		return nil, &MalformedResponseError{Action: ActionGetModuleSOAPActions, Reason: "missing SOAPActions"}
	}
	seen := make(map[string]bool)
	var actions []string
	for _, a := range list.Texts("Action") {
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		actions = append(actions, a)
	}
	return actions, nil
}

func requireSOAP(action string, resp *Response) error {
	if resp == nil || !resp.SOAP || resp.Body == nil {
		return &MalformedResponseError{Action: action, Reason: "not a SOAP response"}
	}
	return nil
}
