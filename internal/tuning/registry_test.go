package tuning

import (
	"reflect"
	"testing"
)

func TestNewRegistryRejectsDuplicateKeys(t *testing.T) {
	descs := DefaultParameters()
	descs = append(descs, descs[0])

	if _, err := NewRegistry(descs); err == nil {
		t.Fatal("expected duplicate key error")
	}
}

func TestNewRegistryRejectsInvertedBounds(t *testing.T) {
	_, err := NewRegistry([]ParameterDescriptor{{
		Key: "bad", Name: "Bad", Tier: TierGreen, Kind: KindNumber,
		Min: 10, Max: 1,
	}})
	if err == nil {
		t.Fatal("expected min > max error")
	}
}

func TestRegistryGetUnknownParameter(t *testing.T) {
	registry := mustRegistry(t)

	_, err := registry.Get("does_not_exist")
	if CodeOf(err) != CodeUnknownParameter {
		t.Fatalf("expected UnknownParameter, got %v", err)
	}
}

func TestRegistryDescriptorsCarryTheirKey(t *testing.T) {
	registry := mustRegistry(t)

	for _, key := range registry.Keys() {
		d, err := registry.Get(key)
		if err != nil {
			t.Fatal(err)
		}
		if d.Key != key {
			t.Errorf("descriptor under %q carries key %q", key, d.Key)
		}
	}
}

func TestRegistryByTierIsIdempotent(t *testing.T) {
	registry := mustRegistry(t)

	first := registry.ByTier()
	second := registry.ByTier()

	if !reflect.DeepEqual(first, second) {
		t.Error("two ByTier calls with no registry change should return identical groupings")
	}

	for tier, descs := range first {
		for _, d := range descs {
			if d.Tier != tier {
				t.Errorf("parameter %q grouped under %s but registered as %s", d.Key, tier, d.Tier)
			}
		}
	}
}

func mustRegistry(t *testing.T) *Registry {
	t.Helper()
	registry, err := NewRegistry(DefaultParameters())
	if err != nil {
		t.Fatalf("default catalog should build: %v", err)
	}
	return registry
}
