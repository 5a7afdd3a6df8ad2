package app

import "encoding/json"

// Network describes the chain the host is connected to.
type Network struct {
	ID   int    `json:"id"`
	Type string `json:"type"`
}

// App is an installed application as reported by get_apps.
type App struct {
	AppAddress               string `json:"appAddress"`
	AppID                    string `json:"appId"`
	AppImplementationAddress string `json:"appImplementationAddress"`
	Identifier               string `json:"identifier,omitempty"`
	IsForwarder              bool   `json:"isForwarder"`
	KernelAddress            string `json:"kernelAddress,omitempty"`
	Name                     string `json:"name"`
}

// Trigger is an off-chain event emitted by an application.
type Trigger struct {
	Event        string          `json:"event"`
	ReturnValues json.RawMessage `json:"returnValues,omitempty"`
}

// ABIParam is one input or output of an ABI entry.
type ABIParam struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Indexed bool   `json:"indexed,omitempty"`
}

// ABIEntry is one element of a contract's JSON interface.
type ABIEntry struct {
	Type            string     `json:"type"`
	Name            string     `json:"name,omitempty"`
	Constant        bool       `json:"constant,omitempty"`
	StateMutability string     `json:"stateMutability,omitempty"`
	Anonymous       bool       `json:"anonymous,omitempty"`
	Inputs          []ABIParam `json:"inputs,omitempty"`
	Outputs         []ABIParam `json:"outputs,omitempty"`
}

// ReadOnly reports whether calling the function cannot change chain state.
func (e ABIEntry) ReadOnly() bool {
	return e.Constant || e.StateMutability == "view" || e.StateMutability == "pure"
}
