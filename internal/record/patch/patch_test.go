package patch

import (
	"testing"
	"time"

	"github.com/censo/censo/backend/go-services/internal/record"
	"github.com/stretchr/testify/require"
)

func baseDoc() *record.Document {
	return &record.Document{
		Date:        "2025-01-01",
		LastUpdated: time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC),
		Data: map[string]any{
			"beds": map[string]any{
				"R1": map[string]any{"patientName": "", "diagnosis": "NAC"},
				"R2": map[string]any{"patientName": "Ana Soto"},
			},
			"nursesDayShift": []any{"María", "José"},
		},
	}
}

func TestApplyPatches_AutoVivification(t *testing.T) {
	out, err := ApplyPatches(record.New(""), record.Patch{"a.b.c": 123})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"a": map[string]any{"b": map[string]any{"c": 123}}}, out.Data)
}

func TestApplyPatches_SiblingsPreserved(t *testing.T) {
	doc := baseDoc()
	out, err := ApplyPatches(doc, record.Patch{"beds.R1.patientName": "Juan Pérez"})
	require.NoError(t, err)

	name, ok := out.Lookup("beds.R1.patientName")
	require.True(t, ok)
	require.Equal(t, "Juan Pérez", name)

	diag, _ := out.Lookup("beds.R1.diagnosis")
	require.Equal(t, "NAC", diag)
	require.Equal(t, doc.Data["beds"].(map[string]any)["R2"], out.Data["beds"].(map[string]any)["R2"])
	require.Equal(t, doc.Data["nursesDayShift"], out.Data["nursesDayShift"])
	require.Equal(t, doc.Date, out.Date)
	require.Equal(t, doc.LastUpdated, out.LastUpdated)
}

func TestApplyPatches_Idempotent(t *testing.T) {
	p := record.Patch{
		"beds.R1.patientName": "Juan Pérez",
		"beds.R3.status":      "blocked",
		"nursesDayShift":      []any{"Carla"},
	}
	once, err := ApplyPatches(baseDoc(), p)
	require.NoError(t, err)
	twice, err := ApplyPatches(once, p)
	require.NoError(t, err)
	require.Equal(t, once, twice)
}

func TestApplyPatches_DoesNotMutateInput(t *testing.T) {
	doc := baseDoc()
	before := doc.Clone()
	_, err := ApplyPatches(doc, record.Patch{"beds.R1.patientName": "X", "beds.R9.x": 1})
	require.NoError(t, err)
	require.Equal(t, before, doc)
}

func TestApplyPatches_ValueIsCopied(t *testing.T) {
	v := map[string]any{"name": "A"}
	out, err := ApplyPatches(baseDoc(), record.Patch{"beds.R4": v})
	require.NoError(t, err)
	v["name"] = "B"
	got, _ := out.Lookup("beds.R4.name")
	require.Equal(t, "A", got)
}

func TestApplyPatches_ScalarIntermediateOverwritten(t *testing.T) {
	doc := baseDoc()
	doc.Data["beds"].(map[string]any)["R2"] = "closed"
	out, err := ApplyPatches(doc, record.Patch{"beds.R2.patientName": "Luis"})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"patientName": "Luis"}, out.Data["beds"].(map[string]any)["R2"])
}

func TestApplyPatches_NilIntermediateReplaced(t *testing.T) {
	doc := baseDoc()
	doc.Data["beds"].(map[string]any)["R2"] = nil
	out, err := ApplyPatches(doc, record.Patch{"beds.R2.patientName": "Luis"})
	require.NoError(t, err)
	got, ok := out.Lookup("beds.R2.patientName")
	require.True(t, ok)
	require.Equal(t, "Luis", got)
}

func TestApplyPatches_NilIsAssigned(t *testing.T) {
	out, err := ApplyPatches(baseDoc(), record.Patch{"beds.R1.diagnosis": nil})
	require.NoError(t, err)
	v, ok := out.Lookup("beds.R1.diagnosis")
	require.True(t, ok)
	require.Nil(t, v)
}

func TestApplyPatches_ArraysReplacedWholesale(t *testing.T) {
	out, err := ApplyPatches(baseDoc(), record.Patch{"nursesDayShift": []any{"Pedro"}})
	require.NoError(t, err)
	require.Equal(t, []any{"Pedro"}, out.Data["nursesDayShift"])
}

func TestApplyPatches_ParentBeforeChild(t *testing.T) {
	out, err := ApplyPatches(baseDoc(), record.Patch{
		"beds.R1.patientName": "Juan",
		"beds.R1":             map[string]any{"diagnosis": "IAM"},
	})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"diagnosis": "IAM", "patientName": "Juan"}, out.Data["beds"].(map[string]any)["R1"])
}

func TestApplyPatches_NilDocument(t *testing.T) {
	out, err := ApplyPatches(nil, record.Patch{"beds.R1.patientName": "Juan"})
	require.NoError(t, err)
	got, _ := out.Lookup("beds.R1.patientName")
	require.Equal(t, "Juan", got)
}

func TestApplyPatches_MalformedPaths(t *testing.T) {
	for _, path := range []string{"", "beds..name", ".beds", "beds.", "date", "lastUpdated", "lastUpdated.x"} {
		_, err := ApplyPatches(baseDoc(), record.Patch{path: 1})
		require.Error(t, err, path)
		require.True(t, record.IsMalformed(err), path)
	}
}

func TestApply_Schema(t *testing.T) {
	s := CensusSchema()

	_, err := Apply(baseDoc(), record.Patch{"beds.R1.patientName": "Juan"}, s)
	require.NoError(t, err)

	_, err = Apply(baseDoc(), record.Patch{"beds.R1.clinicalCrib.cama": "R1"}, s)
	require.NoError(t, err)

	_, err = Apply(baseDoc(), record.Patch{"nursesDayShift": []any{"A"}}, s)
	require.NoError(t, err)

	_, err = Apply(baseDoc(), record.Patch{"nursesDayShift.0": "A"}, s)
	require.True(t, record.IsMalformed(err))

	_, err = Apply(baseDoc(), record.Patch{"bedz.R1.patientName": "A"}, s)
	require.True(t, record.IsMalformed(err))

	_, err = Apply(baseDoc(), record.Patch{"handoffNovedadesDayShift.x": "A"}, s)
	require.True(t, record.IsMalformed(err))
}

func TestApply_SchemaRejectsWholePatch(t *testing.T) {
	doc := baseDoc()
	out, err := Apply(doc, record.Patch{
		"beds.R1.patientName": "Juan",
		"discharges.0":        "x",
	}, CensusSchema())
	require.Error(t, err)
	require.Nil(t, out)
	name, _ := doc.Lookup("beds.R1.patientName")
	require.Equal(t, "", name)
}

func TestSchemaWith(t *testing.T) {
	s := CensusSchema().With("pharmacy", MapOf(nil))
	_, err := Apply(baseDoc(), record.Patch{"pharmacy.stock.a": 1}, s)
	require.NoError(t, err)
	_, err = Apply(baseDoc(), record.Patch{"pharmacy.stock.a": 1}, CensusSchema())
	require.Error(t, err)
}
