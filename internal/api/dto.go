package api

import (
	"github.com/nanjiek/relay-sync/internal/rules"
)

type SetAddressRequest struct {
	BaseAddress string `json:"baseAddress"`
}

type SetAddressResponse struct {
	Status      string `json:"status"`
	BaseAddress string `json:"baseAddress"`
}

type ReconcileResponse struct {
	State string `json:"state"`
}

type NavigationResponse struct {
	Status  string `json:"status"` // accepted | ignored
	Watched bool   `json:"watched"`
}

type RulesResponse struct {
	Revision   string       `json:"revision"`
	Session    []rules.Rule `json:"session"`
	Persistent []rules.Rule `json:"persistent"`
}
