package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLookup struct {
	local map[string]*Entry
	std   map[string]*Entry
	names map[string]*Entry
	err   error
	calls []string
}

func (l *recordingLookup) FindByLocalCode(_ context.Context, code string) (*Entry, error) {
	l.calls = append(l.calls, "local:"+code)
	return l.local[code], l.err
}

func (l *recordingLookup) FindByStandardCode(_ context.Context, code string) (*Entry, error) {
	l.calls = append(l.calls, "standard:"+code)
	return l.std[code], l.err
}

func (l *recordingLookup) FindByName(_ context.Context, name string) (*Entry, error) {
	l.calls = append(l.calls, "name:"+name)
	return l.names[name], l.err
}

func TestResolve_Priority(t *testing.T) {
	glucoseLocal := &Entry{ID: "1", LocalCode: "GLU", Name: "Glucose"}
	glucoseStd := &Entry{ID: "2", StandardCode: "2345-7", Name: "Glucose (LOINC)"}
	glucoseName := &Entry{ID: "3", Name: "Glucose"}

	tests := []struct {
		name      string
		lookup    *recordingLookup
		key       Key
		wantID    string
		wantCalls []string
	}{
		{
			name: "local code wins",
			lookup: &recordingLookup{
				local: map[string]*Entry{"GLU": glucoseLocal},
				std:   map[string]*Entry{"2345-7": glucoseStd},
			},
			key:       Key{LocalCode: "GLU", StandardCode: "2345-7", Name: "Glucose"},
			wantID:    "1",
			wantCalls: []string{"local:GLU"},
		},
		{
			name:      "standard code second",
			lookup:    &recordingLookup{std: map[string]*Entry{"2345-7": glucoseStd}},
			key:       Key{LocalCode: "GLUC", StandardCode: "2345-7", Name: "Glucose"},
			wantID:    "2",
			wantCalls: []string{"local:GLUC", "standard:2345-7"},
		},
		{
			name:      "name last",
			lookup:    &recordingLookup{names: map[string]*Entry{"Glucose": glucoseName}},
			key:       Key{LocalCode: "X1", StandardCode: "X1", Name: "Glucose"},
			wantID:    "3",
			wantCalls: []string{"local:X1", "standard:X1", "name:Glucose"},
		},
		{
			name:      "blank keys skipped",
			lookup:    &recordingLookup{names: map[string]*Entry{"Glucose": glucoseName}},
			key:       Key{Name: "Glucose"},
			wantID:    "3",
			wantCalls: []string{"name:Glucose"},
		},
		{
			name:      "nothing matches",
			lookup:    &recordingLookup{},
			key:       Key{LocalCode: "ZZZ"},
			wantCalls: []string{"local:ZZZ"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry, err := Resolve(context.Background(), tt.lookup, tt.key)
			require.NoError(t, err)
			if tt.wantID == "" {
				assert.Nil(t, entry)
			} else {
				require.NotNil(t, entry)
				assert.Equal(t, tt.wantID, entry.ID)
			}
			assert.Equal(t, tt.wantCalls, tt.lookup.calls)
		})
	}
}

func TestResolve_PropagatesErrors(t *testing.T) {
	boom := errors.New("catalog down")
	lookup := &recordingLookup{err: boom}

	_, err := Resolve(context.Background(), lookup, Key{LocalCode: "GLU", Name: "Glucose"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"local:GLU"}, lookup.calls)
}

func TestStaticLookup_CaseInsensitive(t *testing.T) {
	lookup := NewStaticLookup(
		Entry{ID: "1", LocalCode: "GLU", StandardCode: "2345-7", Name: "Glucose", Unit: "mg/dL"},
		Entry{ID: "2", LocalCode: "NA", StandardCode: "2951-2", Name: "Sodium"},
		Entry{ID: "3", LocalCode: "glu", Name: "Duplicate glucose"},
	)
	ctx := context.Background()

	entry, err := lookup.FindByLocalCode(ctx, "glu")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "1", entry.ID)

	entry, err = lookup.FindByStandardCode(ctx, "2951-2")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "2", entry.ID)

	entry, err = lookup.FindByName(ctx, "  SODIUM ")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "2", entry.ID)

	entry, err = lookup.FindByName(ctx, "Potassium")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestStaticLookup_ReturnsCopies(t *testing.T) {
	lookup := NewStaticLookup(Entry{ID: "1", LocalCode: "GLU", Name: "Glucose"})

	entry, err := lookup.FindByLocalCode(context.Background(), "GLU")
	require.NoError(t, err)
	entry.Name = "changed"

	again, err := lookup.FindByLocalCode(context.Background(), "GLU")
	require.NoError(t, err)
	assert.Equal(t, "Glucose", again.Name)
}
