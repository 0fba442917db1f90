package vault

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pemburu0x/Octra-Extension/chain"
	"github.com/pemburu0x/Octra-Extension/wire"
)

// ProvidersResult is the answer to getRpcProviders.
type ProvidersResult struct {
	wire.Result
	Providers []chain.Provider `json:"providers"`
}

// activeProvider resolves the provider marked active, falling back to
// the built-in default when the list is empty or nothing is marked.
func (s *Service) activeProvider() (chain.Provider, error) {
	providers, err := s.store.Providers()
	if err != nil {
		return chain.Provider{}, err
	}
	for _, p := range providers {
		if p.IsActive {
			return p, nil
		}
	}
	return chain.DefaultProvider(), nil
}

func (s *Service) handleGetProviders() json.RawMessage {
	providers, err := s.store.Providers()
	if err != nil {
		return internalError(err)
	}
	return wire.Marshal(ProvidersResult{Result: wire.OK(), Providers: providers})
}

type addProviderPayload struct {
	Name    string            `json:"name"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

func (s *Service) handleAddProvider(req *wire.ServiceRequest) json.RawMessage {
	var payload addProviderPayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return wire.FailurePayload(wire.Errf(wire.CodeUnknownOperation, "malformed provider request"))
	}
	if payload.Name == "" || !strings.HasPrefix(payload.URL, "http") {
		return wire.FailurePayload(wire.Errf(wire.CodeUnknownOperation, "provider needs a name and an http(s) url"))
	}

	providers, err := s.store.Providers()
	if err != nil {
		return internalError(err)
	}

	providers = append(providers, chain.Provider{
		ID:        uuid.NewString(),
		Name:      payload.Name,
		URL:       strings.TrimRight(payload.URL, "/"),
		Headers:   payload.Headers,
		Priority:  len(providers) + 1,
		CreatedAt: time.Now().UnixMilli(),
	})
	if err := s.store.SetProviders(providers); err != nil {
		return internalError(err)
	}

	log.Info().Str("name", payload.Name).Msg("RPC provider added")
	return wire.Marshal(ProvidersResult{Result: wire.OK(), Providers: providers})
}

type providerIDPayload struct {
	ProviderID string `json:"providerId"`
}

// handleSetActiveProvider marks one provider active and every other
// inactive; exactly one provider is ever active.
func (s *Service) handleSetActiveProvider(req *wire.ServiceRequest) json.RawMessage {
	var payload providerIDPayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return wire.FailurePayload(wire.Errf(wire.CodeUnknownOperation, "malformed provider request"))
	}

	providers, err := s.store.Providers()
	if err != nil {
		return internalError(err)
	}

	found := false
	for i := range providers {
		if providers[i].ID == payload.ProviderID {
			providers[i].IsActive = true
			found = true
		} else {
			providers[i].IsActive = false
		}
	}
	if !found {
		return wire.FailurePayload(wire.Errf(wire.CodeUnknownOperation, "no such provider"))
	}

	if err := s.store.SetProviders(providers); err != nil {
		return internalError(err)
	}
	return wire.Marshal(ProvidersResult{Result: wire.OK(), Providers: providers})
}

// handleRemoveProvider deletes a provider. The built-in default cannot
// be removed; removing the active provider reactivates the default.
func (s *Service) handleRemoveProvider(req *wire.ServiceRequest) json.RawMessage {
	var payload providerIDPayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return wire.FailurePayload(wire.Errf(wire.CodeUnknownOperation, "malformed provider request"))
	}
	if payload.ProviderID == "default" {
		return wire.FailurePayload(wire.Errf(wire.CodeUnknownOperation, "the default provider cannot be removed"))
	}

	providers, err := s.store.Providers()
	if err != nil {
		return internalError(err)
	}

	kept := providers[:0]
	removedActive := false
	for _, p := range providers {
		if p.ID == payload.ProviderID {
			removedActive = p.IsActive
			continue
		}
		kept = append(kept, p)
	}

	if removedActive {
		for i := range kept {
			if kept[i].ID == "default" {
				kept[i].IsActive = true
			}
		}
	}

	if err := s.store.SetProviders(kept); err != nil {
		return internalError(err)
	}
	return wire.Marshal(ProvidersResult{Result: wire.OK(), Providers: kept})
}
