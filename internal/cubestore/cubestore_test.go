package cubestore

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
)

func openTestStore(t *testing.T) *CubeStore {
	t.Helper()
	store, err := Open(Config{MemoryLimit: "512MB", Threads: 2})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func openPersistentTestStore(t *testing.T) *CubeStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snapshot.db")
	store, err := Open(Config{MemoryLimit: "512MB", Threads: 2, PersistentEnabled: true, PersistentPath: path})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestMaterializeReadDropRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	name := CubeName([]string{"region"})

	rowset := Rowset{
		Columns: []string{"region", "total"},
		Rows: [][]any{
			{"us", int64(100)},
			{"eu", int64(50)},
		},
	}

	rowCount, err := store.Materialize(ctx, name, rowset)
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	if rowCount != 2 {
		t.Errorf("Materialize() rowCount = %d, want 2", rowCount)
	}

	got, err := store.Read(ctx, name)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(got.Rows) != 2 {
		t.Errorf("Read() returned %d rows, want 2", len(got.Rows))
	}

	if err := store.Drop(name); err != nil {
		t.Fatalf("Drop() error = %v", err)
	}
	if _, err := store.Read(ctx, name); err == nil {
		t.Error("Read() after Drop() succeeded, want error")
	}
}

func TestMaterializeRejectsDuplicateName(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	name := CubeName([]string{"dup"})
	rowset := Rowset{Columns: []string{"x"}, Rows: [][]any{{int64(1)}}}

	if _, err := store.Materialize(ctx, name, rowset); err != nil {
		t.Fatalf("first Materialize() error = %v", err)
	}
	if _, err := store.Materialize(ctx, name, rowset); err != ErrCubeExists {
		t.Errorf("second Materialize() error = %v, want ErrCubeExists", err)
	}
}

func TestDropAllRemovesEveryCube(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	rowset := Rowset{Columns: []string{"x"}, Rows: [][]any{{int64(1)}}}

	nameA := CubeName([]string{"a"})
	nameB := CubeName([]string{"b"})
	store.Materialize(ctx, nameA, rowset)
	store.Materialize(ctx, nameB, rowset)

	if err := store.DropAll(); err != nil {
		t.Fatalf("DropAll() error = %v", err)
	}
	if _, err := store.Read(ctx, nameA); err == nil {
		t.Error("cube a survived DropAll()")
	}
	if _, err := store.Read(ctx, nameB); err == nil {
		t.Error("cube b survived DropAll()")
	}
}

func TestCubeNameIsInjectiveAcrossUnderscoreCollisions(t *testing.T) {
	nameA := CubeName([]string{"a_b", "c"})
	nameB := CubeName([]string{"a", "b_c"})
	if nameA == nameB {
		t.Fatalf("CubeName collided for distinct signatures: %q == %q", nameA, nameB)
	}
}

func TestCubeNameRoundTripsThroughParse(t *testing.T) {
	signature := []string{"region", "product_category", "p1"}
	name := CubeName(signature)

	got, ok := ParseCubeName(name)
	if !ok {
		t.Fatalf("ParseCubeName(%q) failed to parse", name)
	}
	if !reflect.DeepEqual(got, signature) {
		t.Errorf("ParseCubeName(%q) = %v, want %v", name, got, signature)
	}
}

func TestParseCubeNameRejectsMissingPrefix(t *testing.T) {
	if _, ok := ParseCubeName("not_a_cube"); ok {
		t.Error("ParseCubeName() succeeded for a name without the reserved prefix")
	}
}

func TestParseCubeNameRejectsBadHex(t *testing.T) {
	if _, ok := ParseCubeName(CubePrefix + "zzz"); ok {
		t.Error("ParseCubeName() succeeded for a component that isn't valid hex")
	}
}

func TestSnapshotSaveLoadRoundTrip(t *testing.T) {
	store := openPersistentTestStore(t)
	ctx := context.Background()
	name := CubeName([]string{"region"})

	rowset := Rowset{
		Columns: []string{"region", "total"},
		Rows: [][]any{
			{"us", int64(100)},
			{"eu", int64(50)},
		},
	}
	if _, err := store.Materialize(ctx, name, rowset); err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}

	if err := store.SnapshotSave(ctx, []string{name}); err != nil {
		t.Fatalf("SnapshotSave() error = %v", err)
	}

	if err := store.Drop(name); err != nil {
		t.Fatalf("Drop() error = %v", err)
	}
	if _, err := store.Read(ctx, name); err == nil {
		t.Fatal("cube survived Drop(), round trip would be vacuous")
	}

	restored, err := store.SnapshotLoad(ctx)
	if err != nil {
		t.Fatalf("SnapshotLoad() error = %v", err)
	}
	if len(restored) != 1 || restored[0] != name {
		t.Fatalf("SnapshotLoad() restored = %v, want [%q]", restored, name)
	}

	got, err := store.Read(ctx, name)
	if err != nil {
		t.Fatalf("Read() after SnapshotLoad() error = %v", err)
	}
	if !reflect.DeepEqual(got.Columns, rowset.Columns) {
		t.Errorf("Read() after SnapshotLoad() columns = %v, want %v", got.Columns, rowset.Columns)
	}
	if len(got.Rows) != len(rowset.Rows) {
		t.Fatalf("Read() after SnapshotLoad() returned %d rows, want %d", len(got.Rows), len(rowset.Rows))
	}
	wantRegions := map[string]int64{"us": 100, "eu": 50}
	for _, row := range got.Rows {
		region, ok := row[0].(string)
		if !ok {
			t.Fatalf("row region = %v (%T), want string", row[0], row[0])
		}
		total, ok := row[1].(int64)
		if !ok {
			t.Fatalf("row total = %v (%T), want int64", row[1], row[1])
		}
		if want, ok := wantRegions[region]; !ok || want != total {
			t.Errorf("row for region %q = %d, want %d", region, total, wantRegions[region])
		}
	}
}

func TestSnapshotSaveLoadAreNoOpsWhenPersistenceDisabled(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.SnapshotSave(ctx, []string{"cache_anything"}); err != nil {
		t.Fatalf("SnapshotSave() error = %v, want nil no-op", err)
	}
	restored, err := store.SnapshotLoad(ctx)
	if err != nil {
		t.Fatalf("SnapshotLoad() error = %v, want nil no-op", err)
	}
	if restored != nil {
		t.Errorf("SnapshotLoad() restored = %v, want nil", restored)
	}
}

func TestInferColumnType(t *testing.T) {
	rows := [][]any{
		{nil, int64(1), "s", 1.5, true},
	}
	want := []string{"VARCHAR", "BIGINT", "VARCHAR", "DOUBLE", "BOOLEAN"}
	for i, expect := range want {
		if got := inferColumnType(rows, i); got != expect {
			t.Errorf("inferColumnType(col=%d) = %q, want %q", i, got, expect)
		}
	}
}
