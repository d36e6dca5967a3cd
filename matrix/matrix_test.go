package matrix

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescriptorID(t *testing.T) {
	assert.Equal(t, "Windows 8.1/internet explorer/11", New("Windows 8.1", "internet explorer", "11").ID())
	assert.Equal(t, "Linux/chrome", New("Linux", "chrome", "").ID())
}

func TestDescriptorEqualityIsByValue(t *testing.T) {
	assert.Equal(t, New("OSX 10.8", "safari", "6"), New("OSX 10.8", "safari", "6"))
	assert.NotEqual(t, New("OSX 10.8", "safari", "6"), New("OSX 10.8", "safari", ""))
}

func TestDefaultMatrix(t *testing.T) {
	envs := Default().ListEnvironments()
	require.Len(t, envs, 2)
	assert.Equal(t, "Windows 8.1/internet explorer/11", envs[0].ID())
	assert.Equal(t, "OSX 10.8/safari/6", envs[1].ID())
}

func TestStaticReturnsCopy(t *testing.T) {
	s := Default()
	envs := s.ListEnvironments()
	envs[0] = New("x", "y", "z")
	assert.Equal(t, "Windows 8.1", s.ListEnvironments()[0].OperatingSystem)
}

func TestEmptyMatrix(t *testing.T) {
	assert.Empty(t, Static(nil).ListEnvironments())
}

func TestRegexFilters(t *testing.T) {
	var filters RegexFilters
	require.NoError(t, filters.MustMatch.Set("safari"))
	require.NoError(t, filters.MustMatch.Set("explorer"))
	require.NoError(t, filters.MustNotMatch.Set("/6$"))

	f := Filtered{Provider: Static{
		New("Windows 8.1", "internet explorer", "11"),
		New("OSX 10.8", "safari", "6"),
		New("OSX 10.9", "safari", "7"),
		New("Linux", "firefox", "45"),
	}, Filter: filters.AsFilter}

	var ids []string
	for _, d := range f.ListEnvironments() {
		ids = append(ids, d.ID())
	}
	assert.Equal(t, []string{"Windows 8.1/internet explorer/11", "OSX 10.9/safari/7"}, ids)

	var excluded []string
	for _, d := range f.Excluded() {
		excluded = append(excluded, d.ID())
	}
	assert.Equal(t, []string{"OSX 10.8/safari/6", "Linux/firefox/45"}, excluded)
}

func TestInvalidRegex(t *testing.T) {
	var list RegexList
	assert.Error(t, list.Set("("))
	assert.False(t, list.IsDefined())
}

func TestDescribeFilters(t *testing.T) {
	var buf bytes.Buffer
	RegexFilters{}.Describe(&buf)
	assert.Empty(t, buf.String())

	var filters RegexFilters
	require.NoError(t, filters.MustNotMatch.Set("safari"))
	filters.Describe(&buf)
	assert.Contains(t, buf.String(), `skip any matching "safari"`)
}
