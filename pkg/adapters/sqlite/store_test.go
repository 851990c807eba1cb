package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/aretw0/formtree/pkg/adapters/sqlite"
	"github.com/aretw0/formtree/pkg/domain"
	"github.com/aretw0/formtree/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ ports.FormStore = (*sqlite.Store)(nil)

func TestSQLiteStore_Contract(t *testing.T) {
	stores := map[string]func(t *testing.T) *sqlite.Store{
		"memory": func(t *testing.T) *sqlite.Store {
			s, err := sqlite.New()
			require.NoError(t, err)
			return s
		},
		"file": func(t *testing.T) *sqlite.Store {
			s, err := sqlite.NewWithDSN(filepath.Join(t.TempDir(), "forms.db"))
			require.NoError(t, err)
			return s
		},
	}
	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()
			ports.RunFormStoreContract(t, s)
		})
	}
}

func TestSQLiteStore_Reopen(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "forms.db")
	ctx := context.Background()

	s, err := sqlite.NewWithDSN(dsn)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, domain.NewFormState("f1", "Salon", "salon")))
	require.NoError(t, s.Close())

	s, err = sqlite.NewWithDSN(dsn)
	require.NoError(t, err)
	defer s.Close()

	st, err := s.Load(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "Salon", st.Name)

	id, err := s.FindBySlug(ctx, "salon")
	require.NoError(t, err)
	assert.Equal(t, "f1", id)

	_, err = s.FindBySlug(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrFormNotFound)
}
