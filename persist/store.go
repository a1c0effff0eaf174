// Package persist keeps per-segment tags in a buntdb database so trains can be reconstructed after a restart.
//
// Keys are train:<train>:segment:<index>:<segment>:<tag>. Values are JSON objects holding exactly one of
// "bool" or "int".
package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/buntdb"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

const (
	TagDirection = "direction"
	TagCarriages = "carriages"
	TagDerailed  = "derailed"
	TagMission   = "mission"
)

var ErrBadValue = errors.New("value must hold exactly one of bool or int")

type Value struct {
	Bool *bool `json:"bool,omitempty"`
	Int  *int  `json:"int,omitempty"`
}

func Bool(b bool) Value { return Value{Bool: &b} }
func Int(i int) Value   { return Value{Int: &i} }

func (v Value) String() string {
	switch {
	case v.Bool != nil:
		return strconv.FormatBool(*v.Bool)
	case v.Int != nil:
		return strconv.Itoa(*v.Int)
	default:
		return "<nil>"
	}
}

func (v Value) check() error {
	if (v.Bool == nil) == (v.Int == nil) {
		return ErrBadValue
	}
	return nil
}

// AsBool returns def unless v holds a bool.
func (v Value) AsBool(def bool) bool {
	if v.Bool == nil {
		return def
	}
	return *v.Bool
}

// AsInt returns def unless v holds an int.
func (v Value) AsInt(def int) int {
	if v.Int == nil {
		return def
	}
	return *v.Int
}

// Segment is the set of tags stored for one segment.
type Segment struct {
	Train   uuid.UUID
	Index   int
	Segment uuid.UUID
	Tags    map[string]Value
}

func key(s Segment, tag string) string {
	return fmt.Sprintf("train:%s:segment:%d:%s:%s", s.Train, s.Index, s.Segment, tag)
}

func parseKey(k string) (s Segment, tag string, err error) {
	parts := strings.Split(k, ":")
	if len(parts) != 6 || parts[0] != "train" || parts[2] != "segment" {
		return Segment{}, "", fmt.Errorf("malformed key %q", k)
	}
	if s.Train, err = uuid.Parse(parts[1]); err != nil {
		return Segment{}, "", fmt.Errorf("key %q: train: %w", k, err)
	}
	if s.Index, err = strconv.Atoi(parts[3]); err != nil {
		return Segment{}, "", fmt.Errorf("key %q: index: %w", k, err)
	}
	if s.Segment, err = uuid.Parse(parts[4]); err != nil {
		return Segment{}, "", fmt.Errorf("key %q: segment: %w", k, err)
	}
	return s, parts[5], nil
}

type Store struct {
	db *buntdb.DB
}

// Open opens path, or an in-memory database for ":memory:".
func Open(path string) (*Store, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	var conf buntdb.Config
	err = db.ReadConfig(&conf)
	if err == nil {
		conf.SyncPolicy = buntdb.Always
		err = db.SetConfig(conf)
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("configure %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save replaces every stored tag of the trains in segs.
func (s *Store) Save(segs []Segment) error {
	trains := map[uuid.UUID]struct{}{}
	for _, seg := range segs {
		trains[seg.Train] = struct{}{}
		for tag, v := range seg.Tags {
			if err := v.check(); err != nil {
				return fmt.Errorf("train %s segment %d tag %s: %w", seg.Train, seg.Index, tag, err)
			}
		}
	}
	return s.db.Update(func(tx *buntdb.Tx) error {
		for id := range trains {
			if err := deleteTrain(tx, id); err != nil {
				return err
			}
		}
		for _, seg := range segs {
			for tag, v := range seg.Tags {
				data, err := json.Marshal(v)
				if err != nil {
					return err
				}
				if _, _, err := tx.Set(key(seg, tag), string(data), nil); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func deleteTrain(tx *buntdb.Tx, id uuid.UUID) error {
	var keys []string
	err := tx.AscendKeys(fmt.Sprintf("train:%s:*", id), func(k, _ string) bool {
		keys = append(keys, k)
		return true
	})
	if err != nil {
		return err
	}
	for _, k := range keys {
		if _, err := tx.Delete(k); err != nil && !errors.Is(err, buntdb.ErrNotFound) {
			return err
		}
	}
	return nil
}

// Delete forgets a train.
func (s *Store) Delete(id uuid.UUID) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		return deleteTrain(tx, id)
	})
}

// Load returns every stored train's segments in index order.
// Entries that do not parse are logged and skipped.
func (s *Store) Load() (map[uuid.UUID][]Segment, error) {
	type segKey struct {
		train uuid.UUID
		index int
	}
	found := map[segKey]*Segment{}
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("train:*", func(k, value string) bool {
			seg, tag, err := parseKey(k)
			if err != nil {
				zap.S().Errorw("parsing key failed",
					"key", k,
					"err", err)
				return true
			}
			var v Value
			if err := json.Unmarshal([]byte(value), &v); err != nil || v.check() != nil {
				zap.S().Errorw("unmarshalling failed",
					"key", k,
					"value", value)
				return true
			}
			sk := segKey{seg.Train, seg.Index}
			cur, ok := found[sk]
			if !ok {
				seg.Tags = map[string]Value{}
				cur = &seg
				found[sk] = cur
			} else if cur.Segment != seg.Segment {
				zap.S().Errorw("conflicting segment ids",
					"key", k,
					"segment", cur.Segment)
				return true
			}
			cur.Tags[tag] = v
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	res := map[uuid.UUID][]Segment{}
	for _, sk := range maps.Keys(found) {
		res[sk.train] = append(res[sk.train], *found[sk])
	}
	for id := range res {
		slices.SortFunc(res[id], func(a, b Segment) int { return a.Index - b.Index })
	}
	return res, nil
}
