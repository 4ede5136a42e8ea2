// Package checkpoint stores the state of simulation objects in named
// sections of key/value pairs.
package checkpoint

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/sarchlab/membus/sim"
)

// ErrMissingKey is returned when a section or key is not in the checkpoint.
var ErrMissingKey = errors.New("missing checkpoint key")

// Serializable is an object that can save its state into a checkpoint
// section and restore from it.
type Serializable interface {
	Serialize(cp *Checkpoint, section string)
	Unserialize(cp *Checkpoint, section string) error
}

// Checkpoint is a set of sections. Each section holds string values.
type Checkpoint struct {
	sections map[string]map[string]string
}

// New creates an empty Checkpoint.
func New() *Checkpoint {
	return &Checkpoint{sections: make(map[string]map[string]string)}
}

// Sections returns the section names in sorted order.
func (c *Checkpoint) Sections() []string {
	names := make([]string, 0, len(c.sections))
	for name := range c.sections {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Set stores a raw value.
func (c *Checkpoint) Set(section, key, value string) {
	s, ok := c.sections[section]
	if !ok {
		s = make(map[string]string)
		c.sections[section] = s
	}

	s[key] = value
}

// Get reads a raw value.
func (c *Checkpoint) Get(section, key string) (string, error) {
	s, ok := c.sections[section]
	if !ok {
		return "", fmt.Errorf("section %s: %w", section, ErrMissingKey)
	}

	v, ok := s[key]
	if !ok {
		return "", fmt.Errorf("%s.%s: %w", section, key, ErrMissingKey)
	}

	return v, nil
}

// SetTick stores a tick value.
func (c *Checkpoint) SetTick(section, key string, t sim.Tick) {
	c.Set(section, key, strconv.FormatInt(int64(t), 10))
}

// GetTick reads a tick value.
func (c *Checkpoint) GetTick(section, key string) (sim.Tick, error) {
	v, err := c.Get(section, key)
	if err != nil {
		return 0, err
	}

	t, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s.%s: %w", section, key, err)
	}

	return sim.Tick(t), nil
}

// SetInts stores a list of integers.
func (c *Checkpoint) SetInts(section, key string, values []int) {
	strs := make([]string, len(values))
	for i, v := range values {
		strs[i] = strconv.Itoa(v)
	}

	c.Set(section, key, strings.Join(strs, " "))
}

// GetInts reads a list of integers.
func (c *Checkpoint) GetInts(section, key string) ([]int, error) {
	v, err := c.Get(section, key)
	if err != nil {
		return nil, err
	}

	fields := strings.Fields(v)
	values := make([]int, len(fields))

	for i, f := range fields {
		values[i], err = strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", section, key, err)
		}
	}

	return values, nil
}

// SetBool stores a boolean.
func (c *Checkpoint) SetBool(section, key string, b bool) {
	c.Set(section, key, strconv.FormatBool(b))
}

// GetBool reads a boolean.
func (c *Checkpoint) GetBool(section, key string) (bool, error) {
	v, err := c.Get(section, key)
	if err != nil {
		return false, err
	}

	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s.%s: %w", section, key, err)
	}

	return b, nil
}
