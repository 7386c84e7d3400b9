// Package download builds the snapshot a device pulls after reconnecting.
package download

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/biosync/biosync/internal/attempt"
	"github.com/biosync/biosync/internal/audit"
	"github.com/biosync/biosync/internal/biometric"
	"github.com/biosync/biosync/internal/identity"
)

// Request identifies the caller of a download.
type Request struct {
	IdentityID string
	DeviceID   string
	RequestID  string
	// LastSync is accepted but ignored: every download is a full snapshot.
	LastSync string
}

// Data is the payload the device applies locally.
type Data struct {
	Identities  []identityView   `json:"usuarios"`
	Credentials []credentialView `json:"credenciales_biometricas"`
	Phrases     []phraseView     `json:"textos_audio"`
}

type identityView struct {
	ID          string `json:"id_usuario"`
	ExternalID  string `json:"identificador_unico"`
	GivenNames  string `json:"nombres"`
	FamilyNames string `json:"apellidos"`
	State       string `json:"estado"`
}

// credentialView omits the template; devices keep their own copy.
type credentialView struct {
	ID               string     `json:"id_credencial"`
	Modality         string     `json:"tipo_biometria"`
	AlgorithmVersion string     `json:"version_algoritmo"`
	ValidUntil       *time.Time `json:"validez_hasta"`
	State            string     `json:"estado"`
	IntegrityHash    string     `json:"hash_integridad"`
	IntegrityOK      bool       `json:"integridad_valida"`
}

type phraseView struct {
	ID    string `json:"id_texto"`
	Text  string `json:"frase"`
	State string `json:"estado_texto"`
}

// Snapshot is a built download.
type Snapshot struct {
	Data        Data
	Encoded     json.RawMessage
	Items       int
	AttemptID   string
	GeneratedAt time.Time
}

// Provider assembles snapshots. It never computes deltas.
type Provider struct {
	identities *identity.Service
	biometrics *biometric.Service
	attempts   *attempt.Log
	sink       audit.Sink
	logger     *slog.Logger
	now        func() time.Time
}

// NewProvider wires a download provider.
func NewProvider(identities *identity.Service, biometrics *biometric.Service, attempts *attempt.Log, sink audit.Sink, logger *slog.Logger) *Provider {
	return &Provider{identities: identities, biometrics: biometrics, attempts: attempts, sink: sink, logger: logger, now: time.Now}
}

// Snapshot returns the caller plus every active identity, and the caller's active
// unexpired credentials and active phrases.
func (p *Provider) Snapshot(ctx context.Context, req Request) (Snapshot, error) {
	ev := audit.Event{Operation: "sync.download", IdentityID: req.IdentityID, DeviceID: req.DeviceID, RequestID: req.RequestID}
	return audit.Run(ctx, p.sink, p.logger, ev, func(ctx context.Context, ev *audit.Event) (Snapshot, error) {
		snap, err := p.build(ctx, req)
		ev.Set("items", snap.Items)
		ev.Set("bytes", len(snap.Encoded))
		return snap, err
	})
}

func (p *Provider) build(ctx context.Context, req Request) (Snapshot, error) {
	start := p.now()

	people, err := p.identities.Visible(ctx, req.IdentityID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list identities: %w", err)
	}
	creds, err := p.biometrics.ActiveCredentials(ctx, req.IdentityID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list credentials: %w", err)
	}
	phrases, err := p.biometrics.ActivePhrases(ctx, req.IdentityID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list phrases: %w", err)
	}

	data := Data{
		Identities:  make([]identityView, 0, len(people)),
		Credentials: make([]credentialView, 0, len(creds)),
		Phrases:     make([]phraseView, 0, len(phrases)),
	}
	for _, id := range people {
		data.Identities = append(data.Identities, identityView{
			ID:          id.ID,
			ExternalID:  id.ExternalID,
			GivenNames:  id.GivenNames,
			FamilyNames: id.FamilyNames,
			State:       id.State,
		})
	}
	for _, c := range creds {
		if c.IntegrityErr != nil {
			p.logger.Warn("credential failed integrity check",
				slog.String("credential_id", c.ID),
				slog.String("identity_id", req.IdentityID))
		}
		data.Credentials = append(data.Credentials, credentialView{
			ID:               c.ID,
			Modality:         c.Modality,
			AlgorithmVersion: c.AlgorithmVersion,
			ValidUntil:       c.ValidUntil,
			State:            c.State,
			IntegrityHash:    c.IntegrityHash,
			IntegrityOK:      c.IntegrityErr == nil,
		})
	}
	for _, ph := range phrases {
		data.Phrases = append(data.Phrases, phraseView{ID: ph.ID, Text: ph.Text, State: ph.State})
	}

	encoded, err := json.Marshal(data)
	if err != nil {
		return Snapshot{}, fmt.Errorf("encode snapshot: %w", err)
	}
	snap := Snapshot{
		Data:        data,
		Encoded:     encoded,
		Items:       len(data.Identities) + len(data.Credentials) + len(data.Phrases),
		GeneratedAt: p.now().UTC(),
	}

	rec, err := p.attempts.Append(ctx, attempt.Record{
		IdentityID: req.IdentityID,
		DeviceID:   req.DeviceID,
		Direction:  attempt.DirectionDownload,
		Outcome:    attempt.OutcomeComplete,
		Items:      snap.Items,
		Bytes:      int64(len(encoded)),
		Duration:   p.now().Sub(start),
	})
	if err != nil {
		p.logger.Error("record download attempt", slog.String("identity_id", req.IdentityID), slog.Any("error", err))
	} else {
		snap.AttemptID = rec.ID
	}
	return snap, nil
}
