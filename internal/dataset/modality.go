package dataset

import (
	"log"
	"strings"
	"sync"
)

type Modality int

const (
	LowDim Modality = iota
	RGB
	Depth
	Scan
)

func (m Modality) String() string {
	switch m {
	case RGB:
		return "rgb"
	case Depth:
		return "depth"
	case Scan:
		return "scan"
	default:
		return "low_dim"
	}
}

// IsImage reports whether observations of this modality can be written as video frames.
func (m Modality) IsImage() bool { return m == RGB || m == Depth }

var knownLowDim = map[string]struct{}{
	"actions":             {},
	"latent":              {},
	"object":              {},
	"robot0_eef_pos":      {},
	"robot0_eef_quat":     {},
	"robot0_gripper_qpos": {},
	"robot0_gripper_qvel": {},
	"robot0_joint_pos":    {},
	"robot0_joint_vel":    {},
	"robot1_eef_pos":      {},
	"robot1_eef_quat":     {},
	"robot1_gripper_qpos": {},
}

// ModalityOf maps an observation key to its modality. Unknown keys are low-dimensional.
func ModalityOf(key string) Modality {
	m, _ := classify(key)
	return m
}

func classify(key string) (Modality, bool) {
	switch {
	case strings.HasSuffix(key, "_image"):
		return RGB, true
	case strings.HasSuffix(key, "_depth"):
		return Depth, true
	case strings.HasSuffix(key, "_scan"):
		return Scan, true
	}
	if _, ok := knownLowDim[key]; ok {
		return LowDim, true
	}
	return LowDim, false
}

// Modalities wraps ModalityOf and logs the first time each undeclared key is defaulted.
type Modalities struct {
	log *log.Logger

	mu   sync.Mutex
	seen map[string]struct{}
}

func NewModalities(logger *log.Logger) *Modalities {
	return &Modalities{log: logger, seen: map[string]struct{}{}}
}

func (m *Modalities) Of(key string) Modality {
	mod, known := classify(key)
	if known || m == nil {
		return mod
	}
	m.mu.Lock()
	_, dup := m.seen[key]
	m.seen[key] = struct{}{}
	m.mu.Unlock()
	if !dup && m.log != nil {
		m.log.Printf("observation key %q has no declared modality; assuming %s", key, mod)
	}
	return mod
}
