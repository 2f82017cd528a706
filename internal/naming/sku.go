package naming

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"sync"

	"artvault/internal/fsutil"
)

var (
	ErrInvalidSKU    = errors.New("invalid sku")
	ErrInvalidPrefix = errors.New("invalid sku prefix")
)

const prefixExpr = `[A-Z][A-Z0-9]*`

// SKUExpr matches a whole SKU, unanchored, for use inside file name patterns.
const SKUExpr = prefixExpr + `-[0-9]+`

var (
	prefixPattern = regexp.MustCompile(`^` + prefixExpr + `$`)
	skuPattern    = regexp.MustCompile(`^(` + prefixExpr + `)-([0-9]+)$`)
)

// ValidatePrefix accepts an uppercase letter followed by uppercase letters
// or digits. Other prefixes would issue SKUs that ParseSKU and the record
// layout cannot recognise.
func ValidatePrefix(prefix string) error {
	if !prefixPattern.MatchString(prefix) {
		return fmt.Errorf("%w: %q", ErrInvalidPrefix, prefix)
	}
	return nil
}

// ParseSKU splits a SKU such as RJC-00042 into its prefix and number.
func ParseSKU(sku string) (prefix string, n int, err error) {
	m := skuPattern.FindStringSubmatch(sku)
	if m == nil {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidSKU, sku)
	}
	n, err = strconv.Atoi(m[2])
	if err != nil {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidSKU, sku)
	}
	return m[1], n, nil
}

// FormatSKU renders prefix and n as PREFIX-000n with the given digit width.
func FormatSKU(prefix string, digits, n int) string {
	return fmt.Sprintf("%s-%0*d", prefix, digits, n)
}

type trackerState struct {
	LastSKU int `json:"last_sku"`
}

// Tracker issues sequential SKUs backed by a small JSON counter file.
// Calls are serialised within the process; there is no cross-process lock.
type Tracker struct {
	mu     sync.Mutex
	path   string
	prefix string
	digits int
}

func NewTracker(path, prefix string, digits int) *Tracker {
	return &Tracker{path: path, prefix: prefix, digits: digits}
}

// Next increments the persisted counter and returns the new SKU.
// A missing, unreadable or corrupt counter file counts as zero.
func (t *Tracker) Next() (string, error) {
	const op = "naming.Tracker.Next"

	if err := ValidatePrefix(t.prefix); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	state := t.read()
	state.LastSKU++
	if err := fsutil.WriteJSON(t.path, state); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return FormatSKU(t.prefix, t.digits, state.LastSKU), nil
}

// Current returns the last issued counter value without changing it.
func (t *Tracker) Current() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.read().LastSKU
}

func (t *Tracker) read() trackerState {
	var state trackerState
	data, err := os.ReadFile(t.path)
	if err != nil {
		return trackerState{}
	}
	if err := json.Unmarshal(data, &state); err != nil || state.LastSKU < 0 {
		return trackerState{}
	}
	return state
}
