package rules

import (
	"context"
	"encoding/json"
	goerrors "errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/dcvalidate/errors"
	"github.com/c360/dcvalidate/types"
)

// KVStore persists rule sets in a NATS KV bucket, one key per rule set.
type KVStore struct {
	bucket jetstream.KeyValue
}

// NewKVStore creates or binds the rule bucket.
func NewKVStore(ctx context.Context, js jetstream.JetStream, bucket string) (*KVStore, error) {
	if js == nil {
		return nil, errors.WrapInvalid(nil, "rules", "NewKVStore", "jetstream context cannot be nil")
	}
	if bucket == "" {
		bucket = "dcvalidate_rules"
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "Validation rule sets",
		History:     5,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "rules", "NewKVStore", "create KV bucket")
	}

	return &KVStore{bucket: kv}, nil
}

// GetRuleSet retrieves and decodes a rule set.
func (s *KVStore) GetRuleSet(ctx context.Context, id string) (*types.RuleSet, error) {
	if id == "" {
		return nil, errors.WrapInvalid(nil, "rules", "GetRuleSet", "rule set id cannot be empty")
	}

	entry, err := s.bucket.Get(ctx, id)
	if err != nil {
		if goerrors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: rule set %s", errors.ErrRuleNotFound, id),
				"rules", "GetRuleSet", "KV lookup")
		}
		return nil, errors.WrapTransient(err, "rules", "GetRuleSet", "KV lookup")
	}

	var set types.RuleSet
	if err := json.Unmarshal(entry.Value(), &set); err != nil {
		return nil, errors.WrapInvalid(err, "rules", "GetRuleSet", "rule set decoding")
	}
	return &set, nil
}

// PutRuleSet stores the rule set under its id.
func (s *KVStore) PutRuleSet(ctx context.Context, set *types.RuleSet) error {
	if set == nil || set.ID == "" {
		return errors.WrapInvalid(nil, "rules", "PutRuleSet", "rule set id cannot be empty")
	}

	data, err := json.Marshal(set)
	if err != nil {
		return errors.WrapInvalid(err, "rules", "PutRuleSet", "rule set encoding")
	}
	if _, err := s.bucket.Put(ctx, set.ID, data); err != nil {
		return errors.WrapTransient(err, "rules", "PutRuleSet", "KV write")
	}
	return nil
}

// PutRule upserts one rule inside the named set, creating the set when it
// does not exist yet.
func (s *KVStore) PutRule(ctx context.Context, setID string, rule types.ValidationRule) error {
	if rule.ID == "" {
		return errors.WrapInvalid(nil, "rules", "PutRule", "rule id cannot be empty")
	}

	set, err := s.GetRuleSet(ctx, setID)
	if err != nil {
		if !goerrors.Is(err, errors.ErrRuleNotFound) {
			return err
		}
		set = &types.RuleSet{ID: setID, Type: rule.Type}
	}

	replaced := false
	for i := range set.Rules {
		if set.Rules[i].ID == rule.ID {
			set.Rules[i] = rule
			replaced = true
			break
		}
	}
	if !replaced {
		set.Rules = append(set.Rules, rule)
	}

	return s.PutRuleSet(ctx, set)
}

// GetRule returns one rule from the named set.
func (s *KVStore) GetRule(ctx context.Context, setID, ruleID string) (*types.ValidationRule, error) {
	set, err := s.GetRuleSet(ctx, setID)
	if err != nil {
		return nil, err
	}
	for i := range set.Rules {
		if set.Rules[i].ID == ruleID {
			return &set.Rules[i], nil
		}
	}
	return nil, errors.WrapInvalid(
		fmt.Errorf("%w: rule %s in set %s", errors.ErrRuleNotFound, ruleID, setID),
		"rules", "GetRule", "rule lookup")
}

// LastModified returns the bucket's last stream sequence. Any Put advances
// it, making it a cheap modification token.
func (s *KVStore) LastModified(ctx context.Context) (string, error) {
	status, err := s.bucket.Status(ctx)
	if err != nil {
		return "", errors.WrapTransient(err, "rules", "LastModified", "bucket status")
	}
	if bs, ok := status.(*jetstream.KeyValueBucketStatus); ok {
		return fmt.Sprintf("%d", bs.StreamInfo().State.LastSeq), nil
	}
	return fmt.Sprintf("%d", status.Values()), nil
}
