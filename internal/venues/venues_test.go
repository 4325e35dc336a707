package venues

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-harvester/internal/domain"
)

func TestEmbedded(t *testing.T) {
	c, err := Embedded()
	require.NoError(t, err)

	confA, err := c.Venues("a", ClassConference)
	require.NoError(t, err)
	assert.Equal(t, "ppopp", confA[0])
	assert.Contains(t, confA, "oopsla")
	assert.Contains(t, confA, "iclr")
	assert.Len(t, confA, 58)

	confB, err := c.Venues("B", "CONF")
	require.NoError(t, err)
	assert.Equal(t, []string{"icmr", "icassp", "icme", "colt", "emnlp", "eccv", "icaps", "coling", "naacl"}, confB)

	journals, err := c.Venues("a", ClassJournal)
	require.NoError(t, err)
	assert.Contains(t, journals, "ijhcs")
	assert.Contains(t, journals, "jacm")
	assert.Contains(t, journals, "pieee")
	assert.Contains(t, journals, "scis")
}

func TestVenuesUnknown(t *testing.T) {
	c := MustEmbedded()

	tests := []struct {
		tier, class string
	}{
		{"c", ClassConference},
		{"b", ClassJournal},
		{"a", "workshop"},
	}
	for _, tt := range tests {
		t.Run(tt.tier+"/"+tt.class, func(t *testing.T) {
			_, err := c.Venues(tt.tier, tt.class)
			assert.ErrorIs(t, err, ErrUnknownTier)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestVenuesReturnsCopy(t *testing.T) {
	c := MustEmbedded()
	v, err := c.Venues("b", ClassConference)
	require.NoError(t, err)
	v[0] = "mutated"

	again, err := c.Venues("b", ClassConference)
	require.NoError(t, err)
	assert.Equal(t, "icmr", again[0])
}

func TestQueryName(t *testing.T) {
	c := MustEmbedded()

	tests := []struct {
		key  string
		year int
		want string
	}{
		{"nips", 2017, "NIPS"},
		{"nips", 2018, "NeurIPS"},
		{"nips", 2023, "NeurIPS"},
		{"sigmod", 2024, "Proc ACM Manag Data"},
		{"usenix_atc", 2024, "USENIX ATC"},
		{"sc", 2024, "SC$"},
		{"uss", 2024, "USENIX Security"},
		{"icse", 2024, "ICSE"},
		{"ICML", 2024, "ICML"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, c.QueryName(tt.key, tt.year))
		})
	}
}

func TestFilterNames(t *testing.T) {
	c := MustEmbedded()

	assert.Equal(t, []string{"icse"}, c.FilterNames("icse", 2024))
	assert.Equal(t, []string{"proc acm program lang"}, c.FilterNames("pldi", 2024))
	assert.Equal(t, []string{"sc"}, c.FilterNames("sc", 2024))
	assert.Equal(t, []string{"usenix security", "usenix security symposium"}, c.FilterNames("uss", 2024))
	assert.Equal(t, []string{"naacl", "naacl hlt", "naacl htl", "hlt naacl"}, c.FilterNames("naacl", 2024))
	assert.Equal(t, []string{"sigsoft fse", "esec sigsoft fse"}, c.FilterNames("fse_esec", 2024))
}

func TestSourceRule(t *testing.T) {
	c := MustEmbedded()

	rule, ok := c.SourceRule("ICME")
	require.True(t, ok)
	assert.True(t, rule.Skips(domain.SourceOpenAlex))
	assert.True(t, rule.Skips(domain.SourceCrossRef))
	assert.True(t, rule.Skips(domain.SourceSemanticScholar))
	assert.False(t, rule.Skips(domain.SourceIEEE))

	_, ok = c.SourceRule("icse")
	assert.False(t, ok)
}

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		"Proc. ACM Program. Lang.":  "proc acm program lang",
		"  ESEC/SIGSOFT   FSE ":     "esec sigsoft fse",
		"NAACL-HLT":                 "naacl hlt",
		"SC$":                       "sc",
		"USENIX Security Symposium": "usenix security symposium",
		"2024":                      "",
	}
	for in, want := range tests {
		assert.Equal(t, want, Normalize(in), in)
	}
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "icse_2024.json", FileName("icse", 2024))
	assert.Equal(t, "usenix_atc_2023.json", FileName("usenix_atc", 2023))
	assert.Equal(t, "Proc_ACM_Lang_2022.json", FileName("Proc. ACM/Lang.", 2022))
}

func TestLoad(t *testing.T) {
	t.Run("empty path uses embedded", func(t *testing.T) {
		c, err := Load("")
		require.NoError(t, err)
		_, err = c.Venues("a", ClassConference)
		assert.NoError(t, err)
	})

	t.Run("file override", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "catalog.yaml")
		data := []byte(`
tiers:
  Conf:
    A: [ICSE, fse]
query_names:
  FSE: SIGSOFT FSE
sources:
  fse:
    order: [crossref, acm]
`)
		require.NoError(t, os.WriteFile(path, data, 0o600))

		c, err := Load(path)
		require.NoError(t, err)

		v, err := c.Venues("a", "conf")
		require.NoError(t, err)
		assert.Equal(t, []string{"icse", "fse"}, v)
		assert.Equal(t, "SIGSOFT FSE", c.QueryName("fse", 2024))

		rule, ok := c.SourceRule("fse")
		require.True(t, ok)
		assert.Equal(t, []domain.SourceID{"crossref", "acm"}, rule.Order)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})

	t.Run("no tiers", func(t *testing.T) {
		_, err := Parse([]byte("query_names: {}\n"))
		assert.Error(t, err)
	})
}
