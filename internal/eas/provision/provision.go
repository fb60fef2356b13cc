// Package provision encodes and decodes the minimal EAS <Provision>
// policy-acknowledgement exchange (code page 14) needed to unblock a
// server that requires policy acceptance before Sync will proceed. It
// is a codec consumer only — interpreting or enforcing the policy
// document's contents (device password rules, remote wipe, and so on)
// is out of scope.
package provision

import (
	"fmt"
	"io"

	"github.com/nugget/easync/internal/wbxml"
)

// Status values the server returns for a Provision exchange (MS-ASPROV).
const (
	StatusSuccess            = 1
	StatusProtocolError      = 2
	StatusDeviceNotProvision = 139
	StatusPolicyRefused      = 141
)

// Policy is the opaque EAS provisioning document the server returns.
// Individual settings (password length, encryption, and so on) are not
// parsed out; the device echoes the policy key back unmodified to
// acknowledge it.
type Policy struct {
	Type   string
	Key    string
	RawDoc string
	Status int
}

// DecodeResponse reads a <Provision> response body from the server's
// initial policy-offer round.
func DecodeResponse(body io.Reader) (*Policy, error) {
	dec, err := wbxml.NewDecoder(body, nil)
	if err != nil {
		return nil, err
	}

	if err := dec.Next(); err != nil {
		return nil, err
	}
	if dec.Event != wbxml.EventStartTag || wbxml.NameOf(dec.Tag) != "Provision" {
		return nil, fmt.Errorf("provision: expected Provision, got %v %v", dec.Event, wbxml.NameOf(dec.Tag))
	}
	rootTag := dec.Tag
	policy := &Policy{}

	for {
		if err := dec.NextTag(rootTag); err != nil {
			return nil, err
		}
		if dec.Event == wbxml.EventEndTag {
			break
		}
		if dec.Event != wbxml.EventStartTag {
			continue
		}
		switch wbxml.NameOf(dec.Tag) {
		case "Status":
			n, err := dec.ReadLeafInt()
			if err != nil {
				return nil, err
			}
			policy.Status = n
		case "Policies":
			if err := decodePolicies(dec, policy); err != nil {
				return nil, err
			}
		default:
			if err := dec.SkipTag(); err != nil {
				return nil, err
			}
		}
	}

	return policy, nil
}

func decodePolicies(dec *wbxml.Decoder, policy *Policy) error {
	policiesTag := dec.Tag

	for {
		if err := dec.NextTag(policiesTag); err != nil {
			return err
		}
		if dec.Event == wbxml.EventEndTag {
			break
		}
		if dec.Event != wbxml.EventStartTag {
			continue
		}
		if wbxml.NameOf(dec.Tag) != "Policy" {
			if err := dec.SkipTag(); err != nil {
				return err
			}
			continue
		}
		if err := decodePolicy(dec, policy); err != nil {
			return err
		}
	}

	return nil
}

func decodePolicy(dec *wbxml.Decoder, policy *Policy) error {
	policyTag := dec.Tag

	for {
		if err := dec.NextTag(policyTag); err != nil {
			return err
		}
		if dec.Event == wbxml.EventEndTag {
			break
		}
		if dec.Event != wbxml.EventStartTag {
			continue
		}
		switch wbxml.NameOf(dec.Tag) {
		case "PolicyType":
			v, err := dec.ReadLeafText()
			if err != nil {
				return err
			}
			policy.Type = v
		case "PolicyKey":
			v, err := dec.ReadLeafText()
			if err != nil {
				return err
			}
			policy.Key = v
		case "Data":
			v, err := dec.ReadLeafText()
			if err != nil {
				return err
			}
			policy.RawDoc = v
		case "Status":
			n, err := dec.ReadLeafInt()
			if err != nil {
				return err
			}
			policy.Status = n
		default:
			if err := dec.SkipTag(); err != nil {
				return err
			}
		}
	}

	return nil
}

// EncodeAcknowledge writes the device's acknowledgement round: the
// same policy type and key the server offered, with status 1
// (accepted). Policy refusal is modeled by callers simply not sending
// this request and surfacing StatusPolicyRefused to the user instead.
func EncodeAcknowledge(w io.Writer, policyType, policyKey string) error {
	enc, err := wbxml.NewEncoder(w)
	if err != nil {
		return err
	}
	if err := enc.StartTag("Provision"); err != nil {
		return err
	}
	if err := enc.StartTag("Policies"); err != nil {
		return err
	}
	if err := enc.StartTag("Policy"); err != nil {
		return err
	}
	if err := enc.Element("PolicyType", policyType); err != nil {
		return err
	}
	if err := enc.Element("PolicyKey", policyKey); err != nil {
		return err
	}
	if err := enc.IntElement("Status", StatusSuccess); err != nil {
		return err
	}
	if err := enc.EndTag(); err != nil { // Policy
		return err
	}
	if err := enc.EndTag(); err != nil { // Policies
		return err
	}
	if err := enc.EndTag(); err != nil { // Provision
		return err
	}
	return enc.Flush()
}
