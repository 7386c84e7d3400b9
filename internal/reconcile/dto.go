package reconcile

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// UploadRequest is the body of POST /sync/subida.
type UploadRequest struct {
	DeviceID    string           `json:"dispositivo_id"`
	Creations   []CreationItem   `json:"creaciones"`
	Validations []ValidationItem `json:"validaciones"`
	// LastSync is accepted for compatibility and not used.
	LastSync string `json:"ultima_sync,omitempty"`
}

// CreationItem is one entity created offline.
type CreationItem struct {
	EntityType string          `json:"tipo_entidad"`
	LocalUUID  string          `json:"local_uuid"`
	QueueRef   ClientRef       `json:"id_cola"`
	Data       json.RawMessage `json:"datos"`
}

// ValidationItem is one biometric validation performed offline.
type ValidationItem struct {
	LocalUUID  string    `json:"local_uuid"`
	QueueRef   ClientRef `json:"id_cola"`
	Modality   string    `json:"tipo_biometria"`
	Result     string    `json:"resultado"`
	Mode       string    `json:"modo_validacion"`
	Confidence float64   `json:"puntuacion_confianza"`
	Location   string    `json:"ubicacion_gps"`
}

// ClientRef is a device-side reference that may arrive as a JSON string or number.
type ClientRef string

func (r *ClientRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*r = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = ClientRef(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*r = ClientRef(n.String())
	return nil
}

type identityData struct {
	ExternalID  string     `json:"identificador_unico"`
	GivenNames  string     `json:"nombres"`
	FamilyNames string     `json:"apellidos"`
	State       string     `json:"estado"`
	ModifiedAt  *time.Time `json:"fecha_modificacion"`
}

type credentialData struct {
	OwnerID          string     `json:"id_usuario_remote"`
	Modality         string     `json:"tipo_biometria"`
	Template         string     `json:"template"`
	AlgorithmVersion string     `json:"version_algoritmo"`
	IntegrityHash    string     `json:"hash_integridad"`
	ValidUntil       string     `json:"validez_hasta"`
	State            string     `json:"estado"`
	ModifiedAt       *time.Time `json:"fecha_modificacion"`
}

type phraseData struct {
	OwnerID    string     `json:"id_usuario_remote"`
	Text       string     `json:"frase"`
	ModifiedAt *time.Time `json:"fecha_modificacion"`
}

// device states arrive in the app's vocabulary
var identityStates = map[string]string{
	"activo":     "active",
	"suspendido": "suspended",
	"eliminado":  "deleted",
}

// credentials only know active and eliminated
var credentialStates = map[string]string{
	"activo":    "active",
	"eliminado": "eliminated",
	"inactivo":  "eliminated",
}

func normalizeState(names map[string]string, s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if v, ok := names[s]; ok {
		return v
	}
	return s
}

type mappingResponse struct {
	LocalUUID   string `json:"local_uuid"`
	EntityType  string `json:"entidad"`
	RemoteID    string `json:"remote_id"`
	ClientRef   string `json:"id_cola,omitempty"`
	QueueItemID string `json:"id_cola_servidor,omitempty"`
	Replayed    bool   `json:"reenviado,omitempty"`
}

type itemErrorResponse struct {
	Section    string `json:"seccion"`
	Index      int    `json:"indice"`
	Kind       string `json:"tipo_error"`
	LocalUUID  string `json:"local_uuid,omitempty"`
	EntityType string `json:"tipo_entidad,omitempty"`
	Message    string `json:"error"`
}
