package document

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResume() Document {
	return Document{
		"summary": "Engineer",
		"contact": map[string]any{"email": "a@example.com", "remote": true},
		"skills":  []any{"JS", "TS"},
		"experience": []any{
			map[string]any{
				"title":        "Eng",
				"years":        json.Number("3"),
				"achievements": []any{"shipped v1"},
			},
		},
	}
}

func TestApply_Scenarios(t *testing.T) {
	t.Run("prefix summary", func(t *testing.T) {
		out, err := Apply(Document{"summary": "Engineer"}, Prefix("summary", "Senior "))
		require.NoError(t, err)
		assert.Equal(t, Document{"summary": "Senior Engineer"}, out)
	})
	t.Run("insert skill", func(t *testing.T) {
		out, err := Apply(Document{"skills": []any{"JS", "TS"}}, Insert("skills[1]", "React"))
		require.NoError(t, err)
		assert.Equal(t, Document{"skills": []any{"JS", "React", "TS"}}, out)
	})
	t.Run("remove experience entry", func(t *testing.T) {
		doc := Document{"experience": []any{map[string]any{"title": "Eng"}}}
		out, err := Apply(doc, Remove("experience[0]"))
		require.NoError(t, err)
		assert.Equal(t, Document{"experience": []any{}}, out)
	})
}

func TestApply_Replace(t *testing.T) {
	doc := sampleResume()

	out, err := Apply(doc, Replace("experience[0].title", "Staff Engineer"))
	require.NoError(t, err)
	title, ok, err := Get(out, "experience[0].title")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Staff Engineer", title)

	out, err = Apply(doc, Replace("skills", []any{"Go"}))
	require.NoError(t, err)
	assert.Equal(t, []any{"Go"}, out["skills"])

	out, err = Apply(doc, Replace("contact.phone", "555"))
	require.NoError(t, err)
	assert.Equal(t, "555", out["contact"].(map[string]any)["phone"])

	// replace ignores the current type
	out, err = Apply(doc, Replace("summary", map[string]any{"short": "Eng"}))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"short": "Eng"}, out["summary"])
}

func TestApply_ReplaceErrors(t *testing.T) {
	doc := sampleResume()

	_, err := Apply(doc, Replace("education[0].school", "MIT"))
	assert.True(t, errors.Is(err, ErrPathNotFound), "got %v", err)

	_, err = Apply(doc, Replace("skills[5]", "Go"))
	assert.True(t, errors.Is(err, ErrIndexOutOfRange), "got %v", err)

	_, err = Apply(doc, Replace("summary.text", "x"))
	assert.True(t, errors.Is(err, ErrTypeMismatch), "got %v", err)
}

func TestApply_PrefixSuffix(t *testing.T) {
	doc := sampleResume()

	out, err := Apply(doc, Suffix("experience[0].achievements[0]", " on time"))
	require.NoError(t, err)
	v, _, _ := Get(out, "experience[0].achievements[0]")
	assert.Equal(t, "shipped v1 on time", v)

	out, err = Apply(doc, Suffix("headline", "Builder"))
	require.NoError(t, err)
	assert.Equal(t, "Builder", out["headline"])

	out, err = Apply(Document{"headline": ""}, Prefix("headline", "Builder"))
	require.NoError(t, err)
	assert.Equal(t, "Builder", out["headline"])
}

func TestApply_TypeGuards(t *testing.T) {
	doc := sampleResume()

	_, err := Apply(doc, Prefix("skills", "Top "))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTypeMismatch))
	assert.Contains(t, err.Error(), "cannot prefix sequence")

	_, err = Apply(doc, Suffix("experience[0].years", " years"))
	assert.True(t, errors.Is(err, ErrTypeMismatch))
	assert.Contains(t, err.Error(), "cannot suffix number")

	_, err = Apply(doc, Append("summary", "more"))
	assert.True(t, errors.Is(err, ErrTypeMismatch))

	_, err = Apply(doc, Append("contact", "more"))
	assert.True(t, errors.Is(err, ErrTypeMismatch))

	_, err = Apply(doc, Insert("summary[0]", "x"))
	assert.True(t, errors.Is(err, ErrTypeMismatch))

	_, err = Apply(doc, Insert("contact", "x"))
	assert.True(t, errors.Is(err, ErrTypeMismatch))

	_, err = Apply(doc, Operation{Kind: KindPrefix, Path: "summary", Value: 42})
	assert.True(t, errors.Is(err, ErrTypeMismatch))
}

func TestApply_Append(t *testing.T) {
	doc := sampleResume()

	out, err := Apply(doc, Append("skills", "Go"))
	require.NoError(t, err)
	assert.Equal(t, []any{"JS", "TS", "Go"}, out["skills"])

	out, err = Apply(doc, Append("certifications", "CKA"))
	require.NoError(t, err)
	assert.Equal(t, []any{"CKA"}, out["certifications"])

	out, err = Apply(doc, Append("projects.open_source", "kube"))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"open_source": []any{"kube"}}, out["projects"])

	out, err = Apply(doc, Append("experience[0].achievements", "led team"))
	require.NoError(t, err)
	v, _, _ := Get(out, "experience[0].achievements")
	assert.Equal(t, []any{"shipped v1", "led team"}, v)
}

func TestApply_Insert(t *testing.T) {
	doc := sampleResume()

	out, err := Apply(doc, Insert("skills[0]", "Go"))
	require.NoError(t, err)
	assert.Equal(t, []any{"Go", "JS", "TS"}, out["skills"])

	out, err = Apply(doc, Insert("skills[2]", "Go"))
	require.NoError(t, err)
	assert.Equal(t, []any{"JS", "TS", "Go"}, out["skills"])

	_, err = Apply(doc, Insert("skills[3]", "Go"))
	assert.True(t, errors.Is(err, ErrIndexOutOfRange), "got %v", err)

	_, err = Apply(doc, Insert("languages[0]", "en"))
	assert.True(t, errors.Is(err, ErrPathNotFound), "got %v", err)

	_, err = Apply(doc, Insert("skills", "Go"))
	assert.True(t, errors.Is(err, ErrInvalidOperation), "got %v", err)
}

func TestApply_Remove(t *testing.T) {
	doc := sampleResume()

	out, err := Apply(doc, Remove("skills[0]"))
	require.NoError(t, err)
	assert.Equal(t, []any{"TS"}, out["skills"])

	out, err = Apply(doc, Remove("contact.email"))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"remote": true}, out["contact"])

	for _, missing := range []string{"hobbies", "skills[9]", "education[0].school", "summary.text"} {
		out, err := Apply(doc, Remove(missing))
		require.NoError(t, err, missing)
		assert.Equal(t, doc, out, missing)
	}
}

func TestApply_ValidationOrder(t *testing.T) {
	_, err := Apply(nil, Operation{Path: "summary", Value: "x"})
	assert.True(t, errors.Is(err, ErrInvalidOperation))

	_, err = Apply(nil, Operation{Kind: KindReplace, Value: "x"})
	assert.True(t, errors.Is(err, ErrInvalidOperation))

	_, err = Apply(nil, Operation{Kind: "rewrite", Path: "summary", Value: "x"})
	assert.True(t, errors.Is(err, ErrInvalidOperation))

	for _, kind := range []Kind{KindReplace, KindPrefix, KindSuffix, KindAppend, KindInsert} {
		_, err = Apply(sampleResume(), Operation{Kind: kind, Path: "summary"})
		assert.True(t, errors.Is(err, ErrMissingValue), "%s: got %v", kind, err)
	}

	// malformed path is reported before anything else about the document
	_, err = Apply(sampleResume(), Replace("skills[", "x"))
	assert.True(t, errors.Is(err, ErrInvalidOperation))
}

func TestApply_ExplicitNullIsAValue(t *testing.T) {
	var op Operation
	require.NoError(t, json.Unmarshal([]byte(`{"kind":"replace","path":"summary","value":null}`), &op))
	assert.True(t, op.HasValue)

	out, err := Apply(sampleResume(), op)
	require.NoError(t, err)
	v, ok := out["summary"]
	assert.True(t, ok)
	assert.Nil(t, v)

	require.NoError(t, json.Unmarshal([]byte(`{"kind":"replace","path":"summary"}`), &op))
	assert.False(t, op.HasValue)
	_, err = Apply(sampleResume(), op)
	assert.True(t, errors.Is(err, ErrMissingValue))
}

func TestApply_PreservesScalarTypes(t *testing.T) {
	doc, err := ParseDocument([]byte(`{"years": 7, "remote": true, "gpa": 3.9, "name": "Ada"}`))
	require.NoError(t, err)

	out, err := Apply(doc, Replace("name", "Ada L."))
	require.NoError(t, err)

	raw, err := json.Marshal(out)
	require.NoError(t, err)
	assert.JSONEq(t, `{"years": 7, "remote": true, "gpa": 3.9, "name": "Ada L."}`, string(raw))
	assert.Equal(t, true, out["remote"])
}

func TestApply_AcceptsTypedGoContainers(t *testing.T) {
	doc := Document{"skills": []string{"Go"}, "contact": map[string]string{"city": "Oslo"}}

	out, err := Apply(doc, Append("skills", "Rust"))
	require.NoError(t, err)
	assert.Equal(t, []any{"Go", "Rust"}, out["skills"])
	assert.Equal(t, []string{"Go"}, doc["skills"])

	out, err = Apply(doc, Suffix("contact.city", ", Norway"))
	require.NoError(t, err)
	assert.Equal(t, "Oslo, Norway", out["contact"].(map[string]any)["city"])
}

func TestApply_SharesUntouchedBranches(t *testing.T) {
	doc := sampleResume()
	out, err := Apply(doc, Append("skills", "Go"))
	require.NoError(t, err)

	// untouched subtrees are the same instances
	assert.Equal(t,
		reflectPointer(doc["experience"]),
		reflectPointer(out["experience"]),
	)
	assert.Equal(t, []any{"JS", "TS"}, doc["skills"])
}

func reflectPointer(v any) uintptr {
	return reflect.ValueOf(v).Pointer()
}
