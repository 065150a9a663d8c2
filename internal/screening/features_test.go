package screening

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sampleFeatures is a real record from the UCI Parkinson's voice dataset.
var sampleFeatures = []string{
	"119.992", "157.302", "74.997", "0.00784", "0.00007", "0.00370", "0.00554",
	"0.01109", "0.04374", "0.426", "0.02182", "0.03130", "0.02971", "0.06545",
	"0.02211", "21.033", "0.414783", "0.815285", "-4.813031", "0.266482",
	"2.301442", "0.284654",
}

func TestValidateFeatureVectorCount(t *testing.T) {
	for _, count := range []int{0, 1, 21, 23, 44} {
		err := ValidateFeatureVector(make([]float64, count))
		require.Error(t, err, "count %d", count)

		var vErr *ValidationError
		require.True(t, errors.As(err, &vErr))
		assert.Equal(t, InvalidFeatureCount, vErr.Kind)
		assert.Contains(t, vErr.Message, "expected 22 features")
	}

	assert.NoError(t, ValidateFeatureVector(make([]float64, FeatureCount)))
}

func TestParseFeatureCSV(t *testing.T) {
	features, err := ParseFeatureCSV(strings.NewReader(strings.Join(sampleFeatures, ",") + "\n"))
	require.NoError(t, err)
	require.Len(t, features, FeatureCount)
	assert.InDelta(t, 119.992, features[0], 1e-9)
	assert.InDelta(t, 0.284654, features[21], 1e-9)
}

func TestParseFeatureCSVSkipsHeaderRow(t *testing.T) {
	header := "MDVP:Fo(Hz),MDVP:Fhi(Hz),MDVP:Flo(Hz),Jitter,JitterAbs,RAP,PPQ,DDP," +
		"Shimmer,NHR,ShimmerDB,APQ3,APQ5,APQ,DDA,HNR,RPDE,DFA,spread1,spread2,D2,PPE"
	input := header + "\n" + strings.Join(sampleFeatures, ",") + "\n"

	features, err := ParseFeatureCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, features, FeatureCount)
	assert.InDelta(t, 157.302, features[1], 1e-9)
}

func TestParseFeatureCSVRejectsWrongCount(t *testing.T) {
	short := strings.Join(sampleFeatures[:21], ",")

	_, err := ParseFeatureCSV(strings.NewReader(short))
	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, InvalidFeatureCount, vErr.Kind)
	assert.Contains(t, vErr.Message, "got 21")
}

func TestParseFeatureCSVRejectsNonNumericToken(t *testing.T) {
	row := append([]string{}, sampleFeatures...)
	row[4] = "n/a"

	_, err := ParseFeatureCSV(strings.NewReader(strings.Join(row, ",")))
	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, InvalidNumericValue, vErr.Kind)
	assert.Contains(t, vErr.Message, `"n/a"`)
	assert.Contains(t, vErr.Message, "feature 5")
}

func TestParseFeatureCSVRejectsEmptyInput(t *testing.T) {
	_, err := ParseFeatureCSV(strings.NewReader("\n\n"))
	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, EmptyInput, vErr.Kind)
}
