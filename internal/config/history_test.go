package config

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestHistory(t *testing.T) *HistoryStore {
	t.Helper()
	hs, err := NewHistoryStore(filepath.Join(t.TempDir(), ".history"))
	if err != nil {
		t.Fatal(err)
	}
	return hs
}

func payload(v interface{}) map[string]interface{} {
	return map[string]interface{}{"maxLeverage": v}
}

func TestAppendIncrementsVersions(t *testing.T) {
	hs := newTestHistory(t)

	for i := 1; i <= 3; i++ {
		v, err := hs.Append(TypePhase, "scavenger", payload(i), "op", "load", nil)
		if err != nil {
			t.Fatal(err)
		}
		if v.Version != i {
			t.Errorf("version = %d, want %d", v.Version, i)
		}
		if v.Hash == "" {
			t.Error("content hash not computed")
		}
	}
}

func TestHistoriesIsolatedByTypeAndKey(t *testing.T) {
	hs := newTestHistory(t)

	if _, err := hs.Append(TypePhase, "a", payload(1), "op", "", nil); err != nil {
		t.Fatal(err)
	}
	v, err := hs.Append(TypeService, "a", payload(1), "op", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if v.Version != 1 {
		t.Errorf("(type,key) histories must be independent, got version %d", v.Version)
	}
}

func TestGetVersion(t *testing.T) {
	hs := newTestHistory(t)
	hs.Append(TypeBrain, BrainKey, payload(1), "op", "first", nil)
	hs.Append(TypeBrain, BrainKey, payload(2), "op", "second", nil)

	v, err := hs.GetVersion(TypeBrain, BrainKey, 1)
	if err != nil {
		t.Fatal(err)
	}
	if v.Comment != "first" {
		t.Errorf("comment = %q", v.Comment)
	}
	if _, err := hs.GetVersion(TypeBrain, BrainKey, 99); err == nil {
		t.Error("missing version must error")
	}
}

func TestSearchVersions(t *testing.T) {
	hs := newTestHistory(t)
	hs.Append(TypeBrain, BrainKey, payload(1), "alice", "initial rollout", []string{"rollout"})
	hs.Append(TypeBrain, BrainKey, payload(2), "bob", "tighten caps", []string{"risk", "manual"})
	hs.Append(TypeBrain, BrainKey, payload(3), "alice", "relax caps", []string{"risk"})

	byAuthor, err := hs.SearchVersions(TypeBrain, BrainKey, SearchQuery{Author: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byAuthor) != 2 {
		t.Errorf("byAuthor = %d, want 2", len(byAuthor))
	}

	byTags, err := hs.SearchVersions(TypeBrain, BrainKey, SearchQuery{Tags: []string{"risk", "manual"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(byTags) != 1 || byTags[0].Version != 2 {
		t.Errorf("byTags = %+v", byTags)
	}

	byComment, err := hs.SearchVersions(TypeBrain, BrainKey, SearchQuery{Comment: "caps"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byComment) != 2 {
		t.Errorf("byComment = %d, want 2", len(byComment))
	}

	byDate, err := hs.SearchVersions(TypeBrain, BrainKey, SearchQuery{From: time.Now().Add(time.Hour)})
	if err != nil {
		t.Fatal(err)
	}
	if len(byDate) != 0 {
		t.Errorf("byDate = %d, want 0", len(byDate))
	}
}

func TestCompareVersions(t *testing.T) {
	hs := newTestHistory(t)
	hs.Append(TypeBrain, BrainKey, payload(10), "op", "", nil)
	hs.Append(TypeBrain, BrainKey, payload(20), "op", "", nil)

	diff, err := hs.CompareVersions(TypeBrain, BrainKey, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if diff == "" {
		t.Error("differing payloads must produce a non-empty diff")
	}

	same, err := hs.CompareVersions(TypeBrain, BrainKey, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if same != "" {
		t.Errorf("identical versions must diff empty, got %q", same)
	}
}

// TestRollbackAppendsNotRewinds verifies the append-only law: rolling back
// to V records version N+1 where N was the previous latest.
func TestRollbackAppendsNotRewinds(t *testing.T) {
	mgr, root := newTestManager(t)
	writeFixture(t, root, "defaults/brain.yaml", brainYAML)

	if _, _, err := mgr.LoadBrain(nil); err != nil { // v1: 20
		t.Fatal(err)
	}
	if _, _, err := mgr.LoadBrain(map[string]interface{}{"maxTotalLeverage": 25.0}); err != nil { // v2
		t.Fatal(err)
	}
	if _, _, err := mgr.LoadBrain(map[string]interface{}{"maxTotalLeverage": 30.0}); err != nil { // v3
		t.Fatal(err)
	}

	v, err := mgr.RollbackToVersion(TypeBrain, BrainKey, 1)
	if err != nil {
		t.Fatal(err)
	}
	if v.Version != 4 {
		t.Errorf("rollback recorded as v%d, want v4", v.Version)
	}

	// Live config equals the rolled-back snapshot.
	if got := mgr.Brain().MaxTotalLeverage; got != 20 {
		t.Errorf("live maxTotalLeverage = %v, want 20", got)
	}

	// The next write lands on v5, not v2.
	next, err := mgr.History().Append(TypeBrain, BrainKey, payload(99), "op", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if next.Version != 5 {
		t.Errorf("post-rollback version = %d, want 5", next.Version)
	}
}

func TestRollbackRejectsBreachingVersion(t *testing.T) {
	mgr, root := newTestManager(t)
	writeFixture(t, root, "defaults/brain.yaml", brainYAML)
	writeFixture(t, root, "defaults/phases/hunter.yaml", phaseYAML) // maxLeverage 10

	if _, _, err := mgr.LoadBrain(nil); err != nil {
		t.Fatal(err)
	}
	if _, _, err := mgr.LoadPhase("hunter", nil); err != nil {
		t.Fatal(err)
	}
	// v2 with a cap below the loaded phase would strand it.
	if _, err := mgr.History().Append(TypeBrain, BrainKey,
		map[string]interface{}{"maxTotalLeverage": 5, "maxGlobalDrawdown": 0.3}, "op", "", nil); err != nil {
		t.Fatal(err)
	}

	if _, err := mgr.RollbackToVersion(TypeBrain, BrainKey, 2); err == nil {
		t.Error("rollback below a loaded phase must fail")
	}
	if got := mgr.Brain().MaxTotalLeverage; got != 20 {
		t.Errorf("live brain changed on failed rollback: %v", got)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	hs := newTestHistory(t)
	hs.Append(TypeBrain, BrainKey, payload(1), "op", "a", nil)
	hs.Append(TypePhase, "hunter", payload(2), "op", "b", nil)

	bundle := filepath.Join(t.TempDir(), "bundle.json")
	if err := hs.Export(bundle); err != nil {
		t.Fatal(err)
	}

	other := newTestHistory(t)
	if err := other.Import(bundle, false); err != nil {
		t.Fatal(err)
	}

	versions, err := other.GetAllVersions(TypePhase, "hunter")
	if err != nil {
		t.Fatal(err)
	}
	if len(versions) != 1 || versions[0].Comment != "b" {
		t.Errorf("imported = %+v", versions)
	}
}

func TestImportMergeSkipsDuplicateHashes(t *testing.T) {
	hs := newTestHistory(t)
	hs.Append(TypeBrain, BrainKey, payload(1), "op", "shared", nil)

	bundle := filepath.Join(t.TempDir(), "bundle.json")
	if err := hs.Export(bundle); err != nil {
		t.Fatal(err)
	}

	other := newTestHistory(t)
	other.Append(TypeBrain, BrainKey, payload(1), "op", "shared", nil) // same content hash
	other.Append(TypeBrain, BrainKey, payload(2), "op", "local", nil)

	if err := other.Import(bundle, true); err != nil {
		t.Fatal(err)
	}
	versions, err := other.GetAllVersions(TypeBrain, BrainKey)
	if err != nil {
		t.Fatal(err)
	}
	// The imported duplicate is skipped by hash; nothing new appended.
	if len(versions) != 2 {
		t.Errorf("versions = %d, want 2", len(versions))
	}
}

func TestPruneKeepsNewest(t *testing.T) {
	hs := newTestHistory(t)
	for i := 1; i <= 5; i++ {
		hs.Append(TypeBrain, BrainKey, payload(i), "op", "", nil)
	}

	if err := hs.Prune(TypeBrain, BrainKey, 2); err != nil {
		t.Fatal(err)
	}
	versions, err := hs.GetAllVersions(TypeBrain, BrainKey)
	if err != nil {
		t.Fatal(err)
	}
	if len(versions) != 2 || versions[0].Version != 4 || versions[1].Version != 5 {
		t.Errorf("pruned = %+v", versions)
	}

	// Numbering continues from the pruned tail.
	next, _ := hs.Append(TypeBrain, BrainKey, payload(9), "op", "", nil)
	if next.Version != 6 {
		t.Errorf("post-prune version = %d, want 6", next.Version)
	}
}

func TestClearHistory(t *testing.T) {
	hs := newTestHistory(t)
	hs.Append(TypeBrain, BrainKey, payload(1), "op", "", nil)

	if err := hs.Clear(TypeBrain, BrainKey); err != nil {
		t.Fatal(err)
	}
	versions, err := hs.GetAllVersions(TypeBrain, BrainKey)
	if err != nil {
		t.Fatal(err)
	}
	if len(versions) != 0 {
		t.Errorf("cleared history not empty: %+v", versions)
	}
	// Clearing twice is fine.
	if err := hs.Clear(TypeBrain, BrainKey); err != nil {
		t.Error(err)
	}
}
