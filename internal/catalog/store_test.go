package catalog_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"Inventario/internal/catalog"
)

type fixture struct {
	store   *catalog.FileStore
	file    string
	uploads string
}

func newFixture(t *testing.T, log *zap.Logger) fixture {
	t.Helper()

	dir := t.TempDir()
	uploads := filepath.Join(dir, "uploads")
	assets, err := catalog.NewAssets(uploads)
	require.NoError(t, err)

	file := filepath.Join(dir, "productos.json")
	return fixture{
		store:   catalog.NewFileStore(file, assets, log),
		file:    file,
		uploads: uploads,
	}
}

func (f fixture) seed(t *testing.T, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(f.file, []byte(content), 0o644))
}

func (f fixture) names(t *testing.T) []string {
	t.Helper()
	products, err := f.store.List(context.Background(), catalog.Filter{})
	require.NoError(t, err)

	out := make([]string, 0, len(products))
	for _, p := range products {
		out = append(out, p.Name)
	}
	return out
}

func form(name, units, price string) catalog.ProductForm {
	return catalog.ProductForm{Name: name, Units: units, Price: price}
}

func png(name, body string) *catalog.ImageUpload {
	return &catalog.ImageUpload{Filename: name, Content: strings.NewReader(body)}
}

func TestLoad_MissingFileIsEmpty(t *testing.T) {
	f := newFixture(t, nil)

	products, err := f.store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, products)
}

func TestLoad_Corrupt(t *testing.T) {
	for _, content := range []string{"{not json", `{"nombre":"A"}`, `[1,2]`, ``, `[{"nombre":"A","unidades":"muchas"}]`, `[null]`} {
		t.Run(content, func(t *testing.T) {
			f := newFixture(t, nil)
			f.seed(t, content)

			_, err := f.store.Load(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, catalog.ErrStorageCorrupt)

			var ce *catalog.StorageCorruptError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, f.file, ce.Path)
		})
	}
}

func TestLoad_LooseLegacyRecords(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, `[
		{"id": 7, "nombre": "Tornillo", "unidades": "5", "precio": "0.5", "imagen": null, "color": "rojo"},
		{"nombre": "Tuerca", "unidades": 3.0}
	]`)
	ctx := context.Background()

	products, err := f.store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "7", products[0].ID)
	assert.Equal(t, 5, products[0].Units)
	assert.Equal(t, 0.5, products[0].Price)
	assert.Equal(t, catalog.Product{Name: "Tuerca", Units: 3}, products[1])

	_, err = f.store.Update(ctx, "7", form("Tornillo", "6", "0.5"))
	require.NoError(t, err)

	raw, err := os.ReadFile(f.file)
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"id": "7", "nombre": "Tornillo", "unidades": 6, "precio": 0.5, "imagen": null, "color": "rojo"},
		{"id": "", "nombre": "Tuerca", "unidades": 3, "precio": 0, "imagen": null}
	]`, string(raw))
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	const content = `[
		{"id": "1", "nombre": "Tornillo", "unidades": 10, "precio": 0.5, "imagen": null},
		{"id": "2", "nombre": "Tuerca ñ", "unidades": 0, "precio": 1.25, "imagen": "abc.png"}
	]`
	f.seed(t, content)

	ctx := context.Background()
	products, err := f.store.Load(ctx)
	require.NoError(t, err)
	require.NoError(t, f.store.Save(ctx, products))

	saved, err := os.ReadFile(f.file)
	require.NoError(t, err)
	assert.JSONEq(t, content, string(saved))
	assert.Contains(t, string(saved), "Tuerca ñ")

	entries, err := os.ReadDir(filepath.Dir(f.file))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "temp file left behind: %s", e.Name())
	}
}

func TestAdd_ThenList(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	p, err := f.store.Add(ctx, form("  Arandela ", "7", "0.15"))
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)

	products, err := f.store.List(ctx, catalog.Filter{})
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, catalog.Product{ID: p.ID, Name: "Arandela", Units: 7, Price: 0.15}, products[0])

	raw, err := os.ReadFile(f.file)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"imagen": null`)
}

func TestAdd_AssignsUniqueIDs(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		p, err := f.store.Add(ctx, form(fmt.Sprintf("p%d", i), "1", "1"))
		require.NoError(t, err)
		assert.False(t, seen[p.ID], "id reused: %s", p.ID)
		seen[p.ID] = true
	}
}

func TestAdd_DuplicateNameIgnoresCase(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.store.Add(ctx, form("Tornillo", "1", "1"))
	require.NoError(t, err)

	_, err = f.store.Add(ctx, form("TORNILLO", "2", "2"))
	require.Error(t, err)
	assert.ErrorIs(t, err, catalog.ErrDuplicateName)

	var de *catalog.DuplicateNameError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "TORNILLO", de.Name)
	assert.Equal(t, []string{"Tornillo"}, f.names(t))
}

func TestAdd_Validation(t *testing.T) {
	tests := []struct {
		name  string
		form  catalog.ProductForm
		field string
	}{
		{"EmptyName", form("  ", "1", "1"), "nombre"},
		{"UnitsNotNumber", form("a", "abc", "1"), "unidades"},
		{"UnitsFraction", form("a", "1.5", "1"), "unidades"},
		{"UnitsNegative", form("a", "-1", "1"), "unidades"},
		{"PriceNotNumber", form("a", "1", "x"), "precio"},
		{"PriceNegative", form("a", "1", "-0.5"), "precio"},
		{"PriceNaN", form("a", "1", "NaN"), "precio"},
		{"PriceInf", form("a", "1", "Inf"), "precio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)

			_, err := f.store.Add(context.Background(), tt.form)
			require.Error(t, err)
			assert.ErrorIs(t, err, catalog.ErrValidation)

			var ve *catalog.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.field, ve.Field)

			assert.NoFileExists(t, f.file)
		})
	}
}

func TestAdd_ZeroValuesAllowed(t *testing.T) {
	f := newFixture(t, nil)

	p, err := f.store.Add(context.Background(), form("Muestra", "0", "0"))
	require.NoError(t, err)
	assert.Equal(t, 0, p.Units)
	assert.Equal(t, 0.0, p.Price)
}

func TestScenario_TornilloTuerca(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, `[{"nombre":"Tornillo","unidades":10,"precio":0.5}]`)
	ctx := context.Background()

	_, err := f.store.Add(ctx, form("Tornillo", "5", "1.0"))
	assert.ErrorIs(t, err, catalog.ErrDuplicateName)

	_, err = f.store.Add(ctx, form("Tuerca", "5", "1.0"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Tornillo", "Tuerca"}, f.names(t))

	floor := 0.9
	products, err := f.store.List(ctx, catalog.Filter{PriceMin: &floor})
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "Tuerca", products[0].Name)
}

func TestAdd_WithImage(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	in := form("Tuerca", "5", "1")
	in.Image = png("C:\\fotos\\tuerca.PNG", "png-bytes")

	p, err := f.store.Add(ctx, in)
	require.NoError(t, err)
	require.NotEmpty(t, p.Image)
	assert.True(t, strings.HasSuffix(p.Image, ".png"))
	assert.NotContains(t, p.Image, "tuerca")

	body, err := os.ReadFile(filepath.Join(f.uploads, p.Image))
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(body))

	got, err := f.store.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Image, got.Image)
}

func TestAdd_RejectsUnsupportedImage(t *testing.T) {
	f := newFixture(t, nil)

	in := form("Tuerca", "5", "1")
	in.Image = png("../../evil.sh", "#!/bin/sh")

	_, err := f.store.Add(context.Background(), in)
	assert.ErrorIs(t, err, catalog.ErrValidation)
	assert.Empty(t, f.names(t))

	entries, err := os.ReadDir(f.uploads)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAdd_ImageWithoutAssetDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "productos.json")
	store := catalog.NewFileStore(file, nil, nil)

	in := form("Tuerca", "5", "1")
	in.Image = png("a.png", "x")

	_, err := store.Add(context.Background(), in)
	assert.ErrorIs(t, err, catalog.ErrValidation)

	_, err = store.Add(context.Background(), form("Tuerca", "5", "1"))
	assert.NoError(t, err)
}

func TestGet_NotFound(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	var ne *catalog.NotFoundError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, "nope", ne.ID)
}

func TestUpdate_UnknownIDLeavesCatalogUnchanged(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.store.Add(ctx, form("Tornillo", "1", "1"))
	require.NoError(t, err)
	before, err := os.ReadFile(f.file)
	require.NoError(t, err)

	_, err = f.store.Update(ctx, "missing", form("Otro", "2", "2"))
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	after, err := os.ReadFile(f.file)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestUpdate_KeepsOwnNameInAnyCase(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	p, err := f.store.Add(ctx, form("Tuerca", "1", "1"))
	require.NoError(t, err)

	got, err := f.store.Update(ctx, p.ID, form("TUERCA", "3", "2.5"))
	require.NoError(t, err)
	assert.Equal(t, catalog.Product{ID: p.ID, Name: "TUERCA", Units: 3, Price: 2.5}, got)

	stored, err := f.store.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, got, stored)
}

func TestUpdate_RenameOntoOtherProductRejected(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.store.Add(ctx, form("Tornillo", "1", "1"))
	require.NoError(t, err)
	p, err := f.store.Add(ctx, form("Tuerca", "1", "1"))
	require.NoError(t, err)

	_, err = f.store.Update(ctx, p.ID, form("tornillo", "1", "1"))
	assert.ErrorIs(t, err, catalog.ErrDuplicateName)
	assert.Equal(t, []string{"Tornillo", "Tuerca"}, f.names(t))
}

func TestUpdate_ReplacesImage(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	in := form("Tuerca", "1", "1")
	in.Image = png("a.png", "old")
	p, err := f.store.Add(ctx, in)
	require.NoError(t, err)

	up := form("Tuerca", "1", "1")
	up.Image = png("b.jpg", "new")
	got, err := f.store.Update(ctx, p.ID, up)
	require.NoError(t, err)

	assert.NotEqual(t, p.Image, got.Image)
	assert.NoFileExists(t, filepath.Join(f.uploads, p.Image))
	assert.FileExists(t, filepath.Join(f.uploads, got.Image))
}

func TestUpdate_WithoutImageKeepsImage(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	in := form("Tuerca", "1", "1")
	in.Image = png("a.png", "old")
	p, err := f.store.Add(ctx, in)
	require.NoError(t, err)

	got, err := f.store.Update(ctx, p.ID, form("Tuerca", "9", "1"))
	require.NoError(t, err)
	assert.Equal(t, p.Image, got.Image)
	assert.FileExists(t, filepath.Join(f.uploads, p.Image))
}

func TestUpdate_OldImageRemovalFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	f := newFixture(t, zap.New(core))
	ctx := context.Background()

	// A non-empty directory in place of the old image cannot be removed.
	require.NoError(t, os.MkdirAll(filepath.Join(f.uploads, "stuck.png"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(f.uploads, "stuck.png", "keep"), []byte("x"), 0o644))
	f.seed(t, `[{"id":"p1","nombre":"Tuerca","unidades":1,"precio":1,"imagen":"stuck.png"}]`)

	up := form("Tuerca", "2", "2")
	up.Image = png("new.png", "new")
	got, err := f.store.Update(ctx, "p1", up)
	require.NoError(t, err)
	assert.NotEqual(t, "stuck.png", got.Image)

	entries := logs.FilterMessage("remove product image failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "stuck.png", entries[0].ContextMap()["image"])
}

func TestDelete_Idempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	keep, err := f.store.Add(ctx, form("Tornillo", "1", "1"))
	require.NoError(t, err)
	gone, err := f.store.Add(ctx, form("Tuerca", "1", "1"))
	require.NoError(t, err)

	removed, err := f.store.Delete(ctx, gone.ID)
	require.NoError(t, err)
	assert.True(t, removed)
	first, err := os.ReadFile(f.file)
	require.NoError(t, err)

	removed, err = f.store.Delete(ctx, gone.ID)
	require.NoError(t, err)
	assert.False(t, removed)
	second, err := os.ReadFile(f.file)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, []string{keep.Name}, f.names(t))
}

func TestDelete_RemovesImage(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	in := form("Tuerca", "1", "1")
	in.Image = png("a.webp", "img")
	p, err := f.store.Add(ctx, in)
	require.NoError(t, err)

	_, err = f.store.Delete(ctx, p.ID)
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(f.uploads, p.Image))
}

func TestBulkImport_DedupWithinBatch(t *testing.T) {
	f := newFixture(t, nil)

	rep, err := f.store.BulkImport(context.Background(), []catalog.ImportRecord{
		{"nombre": "A"},
		{"nombre": "a"},
		{"nombre": "B"},
	})
	require.NoError(t, err)
	assert.Equal(t, catalog.ImportReport{Added: 2, Duplicates: 1}, rep)
	assert.Equal(t, []string{"A", "B"}, f.names(t))
}

func TestBulkImport_MergesIntoExisting(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, `[{"id":"t1","nombre":"Tornillo","unidades":10,"precio":0.5,"imagen":null}]`)
	ctx := context.Background()

	rep, err := f.store.BulkImport(ctx, []catalog.ImportRecord{
		{"nombre": "tornillo", "unidades": 1.0},
		{"unidades": 3.0},
		nil,
		{"nombre": 42.0},
		{"nombre": "Negativo", "precio": -1.0},
		{"nombre": "Fraccion", "unidades": 1.5},
		{"nombre": "Clavo", "id": "keep-me", "unidades": "4", "precio": "2.5", "extra": true},
		{"nombre": "Perno", "id": "t1", "unidades": 2.0, "precio": 3.0, "imagen": "../../etc/passwd"},
	})
	require.NoError(t, err)
	assert.Equal(t, catalog.ImportReport{Added: 2, Duplicates: 1, Invalid: 5}, rep)

	products, err := f.store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, products, 3)

	assert.Equal(t, catalog.Product{ID: "keep-me", Name: "Clavo", Units: 4, Price: 2.5}, products[1])

	perno := products[2]
	assert.Equal(t, "Perno", perno.Name)
	assert.NotEqual(t, "t1", perno.ID)
	assert.NotEmpty(t, perno.ID)
	assert.Empty(t, perno.Image)
}

func TestBulkImport_QuotedNumbersAreDecimal(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	rep, err := f.store.BulkImport(ctx, []catalog.ImportRecord{
		{"nombre": "A", "unidades": "010"},
		{"nombre": "B", "unidades": "08"},
		{"nombre": "C", "unidades": " 7 ", "precio": " 2.5 "},
		{"nombre": "D", "unidades": true},
		{"nombre": "E", "precio": false},
		{"nombre": "F", "unidades": "0x10"},
	})
	require.NoError(t, err)
	assert.Equal(t, catalog.ImportReport{Added: 3, Invalid: 3}, rep)

	products, err := f.store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, products, 3)
	assert.Equal(t, 10, products[0].Units)
	assert.Equal(t, 8, products[1].Units)
	assert.Equal(t, 7, products[2].Units)
	assert.Equal(t, 2.5, products[2].Price)
}

func TestBulkImport_NothingAddedLeavesFileAlone(t *testing.T) {
	f := newFixture(t, nil)

	rep, err := f.store.BulkImport(context.Background(), []catalog.ImportRecord{{"unidades": 1.0}})
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Added)
	assert.NoFileExists(t, f.file)
}

func TestExportJSON_MatchesBackingFile(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.store.Add(ctx, form("Tornillo", "10", "0.5"))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, f.store.ExportJSON(ctx, &buf))

	raw, err := os.ReadFile(f.file)
	require.NoError(t, err)
	assert.Equal(t, string(raw), buf.String())
}

func TestExportJSON_EmptyCatalog(t *testing.T) {
	f := newFixture(t, nil)

	var buf bytes.Buffer
	require.NoError(t, f.store.ExportJSON(context.Background(), &buf))
	assert.JSONEq(t, `[]`, buf.String())
}

func TestExportCSV(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, `[{"id":"t1","nombre":"Tornillo","unidades":10,"precio":0.5,"imagen":"t.png"}]`)

	var buf bytes.Buffer
	require.NoError(t, f.store.ExportCSV(context.Background(), &buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "id,nombre,unidades,precio,imagen", lines[0])
	assert.Equal(t, "t1,Tornillo,10,0.5,t.png", lines[1])
}

func TestExportXLSX(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, `[
		{"id":"t1","nombre":"Tornillo","unidades":10,"precio":0.5,"imagen":"t.png"},
		{"id":"t2","nombre":"Tuerca","unidades":5,"precio":1,"imagen":null}
	]`)

	var buf bytes.Buffer
	require.NoError(t, f.store.ExportXLSX(context.Background(), &buf))

	book, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer func() { _ = book.Close() }()

	rows, err := book.GetRows("Productos")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"id", "nombre", "unidades", "precio", "imagen"}, rows[0])
	assert.Equal(t, []string{"t1", "Tornillo", "10", "0.5", "t.png"}, rows[1])
	assert.Equal(t, []string{"t2", "Tuerca", "5", "1"}, rows[2][:4])
}

func TestPing(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.store.Ping(ctx))

	f.seed(t, "garbage")
	assert.ErrorIs(t, f.store.Ping(ctx), catalog.ErrStorageCorrupt)
}

func TestConcurrentWritersDoNotLoseUpdates(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	const n = 25
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := f.store.Add(ctx, form(fmt.Sprintf("item-%02d", i), "1", "1")); err != nil {
				errs <- err
			}
			if _, err := f.store.List(ctx, catalog.Filter{}); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Len(t, f.names(t), n)
}
