package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

var ErrNoArtifact = errors.New("no materialized artifact")

// Artifact is the persisted output of one stage materialization.
type Artifact struct {
	Stage             string          `json:"stage"`
	RunID             string          `json:"runId"`
	CreatedAt         time.Time       `json:"createdAt"`
	InputFingerprint  string          `json:"inputFingerprint,omitempty"`
	OutputFingerprint string          `json:"outputFingerprint"`
	Records           int             `json:"records"`
	Payload           json.RawMessage `json:"payload"`
}

// ArtifactStore keeps the latest output of each stage on disk so a stage can
// be materialized on its own from its upstream's cached output.
type ArtifactStore struct {
	dir string
	now func() time.Time
}

func NewArtifactStore(dir string) *ArtifactStore {
	return &ArtifactStore{dir: dir, now: time.Now}
}

func (a *ArtifactStore) path(stage string) string {
	return filepath.Join(a.dir, stage, "latest.json")
}

func (a *ArtifactStore) Save(stage, runID, inputFingerprint string, records int, payload any) (*Artifact, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s artifact: %w", stage, err)
	}
	art := &Artifact{
		Stage:             stage,
		RunID:             runID,
		CreatedAt:         a.now().UTC(),
		InputFingerprint:  inputFingerprint,
		OutputFingerprint: fingerprintBytes(body),
		Records:           records,
		Payload:           body,
	}

	data, err := json.MarshalIndent(art, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal %s artifact: %w", stage, err)
	}
	dst := a.path(stage)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return nil, fmt.Errorf("write %s artifact: %w", stage, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return nil, fmt.Errorf("commit %s artifact: %w", stage, err)
	}
	return art, nil
}

// Load reads the latest artifact of stage and decodes its payload into out.
func (a *ArtifactStore) Load(stage string, out any) (*Artifact, error) {
	data, err := os.ReadFile(a.path(stage))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w for %s", ErrNoArtifact, stage)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s artifact: %w", stage, err)
	}

	var art Artifact
	if err := json.Unmarshal(data, &art); err != nil {
		return nil, fmt.Errorf("decode %s artifact: %w", stage, err)
	}
	if out != nil {
		if err := json.Unmarshal(art.Payload, out); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", stage, err)
		}
	}
	return &art, nil
}

// Unchanged reports whether stage last ran on input with this fingerprint.
func (a *ArtifactStore) Unchanged(stage, inputFingerprint string) bool {
	art, err := a.Load(stage, nil)
	if err != nil {
		return false
	}
	return art.InputFingerprint != "" && art.InputFingerprint == inputFingerprint
}

// Fingerprint is the SHA-256 of v's JSON encoding.
func Fingerprint(v any) (string, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return fingerprintBytes(body), nil
}

func fingerprintBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
