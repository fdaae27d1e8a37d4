package path

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/dcvalidate/errors"
	"github.com/c360/dcvalidate/schema"
)

type reading struct {
	DataPoint string
	Avg       float64
	Taken     time.Time
}

type person struct {
	Name     string
	Age      float64
	Country  string
	City     string
	State    string
	Children []*person
	Manager  *person
	Readings []*reading
	Tags     []string
}

func personSchema() *schema.Descriptor {
	readingDesc := schema.NewDescriptor("Reading",
		&schema.Field{Name: "DataPoint", Type: schema.Type{Kind: schema.String},
			Get: func(v any) any { return v.(*reading).DataPoint }},
		&schema.Field{Name: "Avg", Type: schema.Type{Kind: schema.Number},
			Get: func(v any) any { return v.(*reading).Avg }},
		&schema.Field{Name: "Taken", Type: schema.Type{Kind: schema.Time},
			Get: func(v any) any { return v.(*reading).Taken }},
	)

	desc := schema.NewDescriptor("Person",
		&schema.Field{Name: "Name", Type: schema.Type{Kind: schema.String},
			Get: func(v any) any { return v.(*person).Name }},
		&schema.Field{Name: "Age", Type: schema.Type{Kind: schema.Number},
			Get: func(v any) any { return v.(*person).Age }},
		&schema.Field{Name: "Country", Type: schema.Type{Kind: schema.String},
			Get: func(v any) any { return v.(*person).Country }},
		&schema.Field{Name: "City", Type: schema.Type{Kind: schema.String},
			Get: func(v any) any { return v.(*person).City }},
		&schema.Field{Name: "State", Type: schema.Type{Kind: schema.String},
			Get: func(v any) any { return v.(*person).State }},
		&schema.Field{Name: "Readings", Type: schema.Type{Kind: schema.Sequence,
			Elem: &schema.Type{Kind: schema.Object, Desc: readingDesc}},
			Get: func(v any) any {
				out := make([]any, 0, len(v.(*person).Readings))
				for _, r := range v.(*person).Readings {
					out = append(out, r)
				}
				return out
			}},
		&schema.Field{Name: "Tags", Type: schema.Type{Kind: schema.Sequence,
			Elem: &schema.Type{Kind: schema.String}},
			Get: func(v any) any {
				out := make([]any, 0, len(v.(*person).Tags))
				for _, tag := range v.(*person).Tags {
					out = append(out, tag)
				}
				return out
			}},
	)

	desc.AddField(&schema.Field{Name: "Children", Type: schema.Type{Kind: schema.Sequence,
		Elem: &schema.Type{Kind: schema.Object, Desc: desc}},
		Get: func(v any) any {
			out := make([]any, 0, len(v.(*person).Children))
			for _, c := range v.(*person).Children {
				out = append(out, c)
			}
			return out
		}})
	desc.AddField(&schema.Field{Name: "Manager", Type: schema.Type{Kind: schema.Object, Desc: desc},
		Get: func(v any) any {
			if v.(*person).Manager == nil {
				return nil
			}
			return v.(*person).Manager
		}})

	return desc
}

func testPerson() *person {
	return &person{
		Name: "pat", Age: 40, Country: "USA", City: "Redmond", State: "WA",
		Children: []*person{
			{Name: "ana", Age: 12},
			{Name: "ben", Age: 8},
		},
		Readings: []*reading{
			{DataPoint: "kW", Avg: 10.5},
			{DataPoint: "kW", Avg: 4.5},
			{DataPoint: "Amps", Avg: 42},
		},
		Tags: []string{"wa", "lead", "wa"},
	}
}

func TestResolve_SimpleField(t *testing.T) {
	desc := personSchema()

	acc, err := Resolve(desc, "City")
	require.NoError(t, err)
	assert.Equal(t, schema.String, acc.Type.Kind)

	got, err := acc.Eval(testPerson())
	require.NoError(t, err)
	assert.Equal(t, "Redmond", got)
}

func TestResolve_CaseInsensitiveFieldMatch(t *testing.T) {
	desc := personSchema()

	acc, err := Resolve(desc, "children.count()")
	require.NoError(t, err)

	got, err := acc.Eval(testPerson())
	require.NoError(t, err)
	assert.Equal(t, 2.0, got)
}

func TestResolve_Count(t *testing.T) {
	desc := personSchema()

	acc, err := Resolve(desc, "Children.Count()")
	require.NoError(t, err)
	assert.Equal(t, schema.Number, acc.Type.Kind)

	got, err := acc.Eval(testPerson())
	require.NoError(t, err)
	assert.Equal(t, 2.0, got)
}

func TestResolve_SelectSum(t *testing.T) {
	desc := personSchema()

	acc, err := Resolve(desc, "Children.Select(Age).Sum()")
	require.NoError(t, err)

	got, err := acc.Eval(testPerson())
	require.NoError(t, err)
	assert.Equal(t, 20.0, got)
}

func TestResolve_SumWithFieldArg(t *testing.T) {
	desc := personSchema()

	acc, err := Resolve(desc, "Children.Sum(Age)")
	require.NoError(t, err)

	got, err := acc.Eval(testPerson())
	require.NoError(t, err)
	assert.Equal(t, 20.0, got)
}

func TestResolve_Indexer(t *testing.T) {
	desc := personSchema()

	acc, err := Resolve(desc, "Children[0].Name")
	require.NoError(t, err)

	got, err := acc.Eval(testPerson())
	require.NoError(t, err)
	assert.Equal(t, "ana", got)

	acc, err = Resolve(desc, "Children[5].Name")
	require.NoError(t, err)
	_, err = acc.Eval(testPerson())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrEvaluationFailed)
}

func TestResolve_WhereSum(t *testing.T) {
	desc := personSchema()

	acc, err := Resolve(desc, "Readings.Where(DataPoint,Equals,'kW').Sum(Avg)")
	require.NoError(t, err)

	got, err := acc.Eval(testPerson())
	require.NoError(t, err)
	assert.Equal(t, 15.0, got)
}

func TestResolve_WhereNumericComparison(t *testing.T) {
	desc := personSchema()

	acc, err := Resolve(desc, "Readings.Where(Avg,GreaterThan,5).Count()")
	require.NoError(t, err)

	got, err := acc.Eval(testPerson())
	require.NoError(t, err)
	assert.Equal(t, 2.0, got)
}

func TestResolve_AverageMaxMin(t *testing.T) {
	desc := personSchema()
	p := testPerson()

	for _, tt := range []struct {
		path string
		want float64
	}{
		{"Children.Average(Age)", 10},
		{"Children.Max(Age)", 12},
		{"Children.Min(Age)", 8},
		{"Readings.Select(Avg).Max()", 42},
	} {
		acc, err := Resolve(desc, tt.path)
		require.NoError(t, err, tt.path)
		got, err := acc.Eval(p)
		require.NoError(t, err, tt.path)
		assert.Equal(t, tt.want, got, tt.path)
	}
}

func TestResolve_OrderByDescFirstLast(t *testing.T) {
	desc := personSchema()

	acc, err := Resolve(desc, "Children.OrderByDesc(Age).First().Name")
	require.NoError(t, err)
	got, err := acc.Eval(testPerson())
	require.NoError(t, err)
	assert.Equal(t, "ana", got)

	acc, err = Resolve(desc, "Children.OrderByDesc(Age).Last().Name")
	require.NoError(t, err)
	got, err = acc.Eval(testPerson())
	require.NoError(t, err)
	assert.Equal(t, "ben", got)
}

func TestResolve_FirstOnEmptySequence(t *testing.T) {
	desc := personSchema()

	acc, err := Resolve(desc, "Children.First().Name")
	require.NoError(t, err)
	_, err = acc.Eval(&person{Name: "solo"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrEvaluationFailed)
}

func TestResolve_DistinctCount(t *testing.T) {
	desc := personSchema()

	acc, err := Resolve(desc, "Tags.DistinctCount()")
	require.NoError(t, err)
	got, err := acc.Eval(testPerson())
	require.NoError(t, err)
	assert.Equal(t, 2.0, got)
}

func TestResolve_Traverse(t *testing.T) {
	desc := personSchema()

	ceo := &person{Name: "ceo"}
	vp := &person{Name: "vp", Manager: ceo}
	ic := &person{Name: "ic", Manager: vp}

	acc, err := Resolve(desc, "Traverse(Manager,Name)")
	require.NoError(t, err)
	assert.Equal(t, schema.Sequence, acc.Type.Kind)

	got, err := acc.Eval(ic)
	require.NoError(t, err)
	assert.Equal(t, []any{"ic", "vp", "ceo"}, got)
}

func TestResolve_TraverseBoundsCycles(t *testing.T) {
	desc := personSchema()

	a := &person{Name: "a"}
	b := &person{Name: "b", Manager: a}
	a.Manager = b // cycle

	acc, err := Resolve(desc, "Traverse(Manager,Name)")
	require.NoError(t, err)

	got, err := acc.Eval(a)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, got)
}

func TestResolve_NullPropagation(t *testing.T) {
	desc := personSchema()

	acc, err := Resolve(desc, "Manager.City")
	require.NoError(t, err)

	got, err := acc.Eval(&person{Name: "orphan"})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestResolve_Errors(t *testing.T) {
	desc := personSchema()

	tests := []struct {
		name string
		path string
	}{
		{"unknown field", "Address"},
		{"unknown function", "Children.Shuffle()"},
		{"indexer on scalar", "Name[0]"},
		{"count on scalar", "Age.Count()"},
		{"sum of non-numeric field", "Children.Sum(Name)"},
		{"where bad operator", "Readings.Where(DataPoint,Approximates,'kW')"},
		{"where on scalar", "Name.Where(DataPoint,Equals,'kW')"},
		{"select unknown field", "Children.Select(Address)"},
		{"traverse non-recursive field", "Traverse(City,Name)"},
		{"empty path", ""},
		{"unbalanced parens", "Children.Count("},
		{"field access past scalar", "Age.Name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(desc, tt.path)
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrPathNotResolved)

			var re *ResolutionError
			require.ErrorAs(t, err, &re)
			assert.NotEmpty(t, re.Reason)
		})
	}
}

func TestResolve_ErrorNamesSegment(t *testing.T) {
	desc := personSchema()

	_, err := Resolve(desc, "Children[0].Address")
	require.Error(t, err)

	var re *ResolutionError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "Address", re.Segment)
}
