// Пакет molecule — проверка подтверждения владения (молекулы Knish.IO).
//
// Сервис не реализует криптографию леджера: Verifier — подменяемая
// зависимость. JSONVerifier разбирает молекулу и проверяет её структуру;
// для полной проверки подписи его заменяют внешним верификатором.
package molecule

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bigkaa/goartstore/depot/internal/domain/model"
)

// MetaIsotope — изотоп атома, несущего метаданные молекулы.
const MetaIsotope = "M"

// ErrInvalidAttestation — молекула не прошла проверку.
var ErrInvalidAttestation = errors.New("некорректная молекула")

// Attestation — результат успешной проверки молекулы.
type Attestation interface {
	// Bundle возвращает бандл, владение которым подтверждено.
	Bundle() string
	// MetaField возвращает поле метаданных последнего атома с изотопом M.
	MetaField(key string) (string, bool)
}

// Verifier проверяет сериализованную молекулу.
type Verifier interface {
	Verify(ctx context.Context, raw []byte) (Attestation, error)
}

// Molecule — разобранная молекула.
type Molecule struct {
	MolecularHash string `json:"molecularHash"`
	Bundle        string `json:"bundle"`
	Atoms         []Atom `json:"atoms"`
}

// Atom — атом молекулы. Используются только изотоп и метаданные.
type Atom struct {
	Isotope       string `json:"isotope"`
	WalletAddress string `json:"walletAddress"`
	Meta          Meta   `json:"meta"`
}

// Meta — метаданные атома. В JSON встречаются как список
// [{"key": ..., "value": ...}], так и объект {"key": "value"}.
type Meta map[string]string

// UnmarshalJSON поддерживает обе формы метаданных.
func (m *Meta) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	out := Meta{}

	switch {
	case bytes.Equal(data, []byte("null")):
	case len(data) > 0 && data[0] == '[':
		var pairs []struct {
			Key   string          `json:"key"`
			Value json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(data, &pairs); err != nil {
			return err
		}
		for _, p := range pairs {
			out[p.Key] = rawString(p.Value)
		}
	case len(data) > 0 && data[0] == '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		for k, v := range obj {
			out[k] = rawString(v)
		}
	default:
		return fmt.Errorf("неподдерживаемый формат meta: %.20s", data)
	}

	*m = out
	return nil
}

// attestation — реализация Attestation поверх разобранной молекулы.
type attestation struct {
	bundle string
	meta   Meta
}

func (a *attestation) Bundle() string { return a.bundle }

func (a *attestation) MetaField(key string) (string, bool) {
	if a.meta == nil {
		return "", false
	}
	v, ok := a.meta[key]
	return v, ok
}

// NewAttestation создаёт Attestation из бандла и метаданных.
// Используется внешними верификаторами и тестами.
func NewAttestation(bundle string, meta map[string]string) Attestation {
	return &attestation{bundle: bundle, meta: meta}
}

// JSONVerifier — структурная проверка молекулы.
type JSONVerifier struct{}

// NewJSONVerifier создаёт JSONVerifier.
func NewJSONVerifier() *JSONVerifier {
	return &JSONVerifier{}
}

// Verify разбирает молекулу и проверяет: непустой molecularHash,
// хотя бы один атом, у каждого атома задан изотоп, бандл из 64 символов.
func (v *JSONVerifier) Verify(_ context.Context, raw []byte) (Attestation, error) {
	mol, err := Parse(raw)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(mol.MolecularHash) == "" {
		return nil, fmt.Errorf("%w: отсутствует molecularHash", ErrInvalidAttestation)
	}
	if len(mol.Atoms) == 0 {
		return nil, fmt.Errorf("%w: молекула без атомов", ErrInvalidAttestation)
	}
	for i, a := range mol.Atoms {
		if a.Isotope == "" {
			return nil, fmt.Errorf("%w: атом %d без изотопа", ErrInvalidAttestation, i)
		}
	}
	if !model.ValidBundleHash(mol.Bundle) {
		return nil, fmt.Errorf("%w: некорректный бандл", ErrInvalidAttestation)
	}

	return &attestation{bundle: mol.Bundle, meta: mol.MetaAtom()}, nil
}

// Parse разбирает JSON молекулы.
func Parse(raw []byte) (*Molecule, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: пустые данные", ErrInvalidAttestation)
	}
	var mol Molecule
	if err := json.Unmarshal(raw, &mol); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAttestation, err)
	}
	return &mol, nil
}

// MetaAtom возвращает метаданные последнего атома с изотопом M (nil, если нет).
func (m *Molecule) MetaAtom() Meta {
	var meta Meta
	found := false
	for _, a := range m.Atoms {
		if a.Isotope == MetaIsotope {
			meta = a.Meta
			found = true
		}
	}
	if found && meta == nil {
		return Meta{}
	}
	return meta
}

// rawString — строковое значение JSON без кавычек, для прочих типов — исходный текст.
func rawString(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(v))
}
