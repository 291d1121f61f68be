package simulation

import (
	"fmt"

	"terraguard/internal/dataset"
	"terraguard/internal/model"
)

// classificationFeatures builds the classifier input for one row. A model
// with a known feature order gets exactly those columns, absent ones as 0;
// otherwise the row's numeric cells are used in file order up to the cap.
func classificationFeatures(row dataset.Row, clf model.Classifier, limit int) ([]float64, error) {
	var order []string
	if fo, ok := clf.(model.FeatureOrderer); ok {
		order = fo.FeatureOrder()
	}

	if len(order) == 0 {
		nums := row.Numeric()
		if limit > 0 && len(nums) > limit {
			nums = nums[:limit]
		}
		return nums, nil
	}

	features := make([]float64, len(order))
	for i, col := range order {
		if _, ok := row.Get(col); !ok {
			continue
		}
		f, ok := row.Float(col)
		if !ok {
			return nil, fmt.Errorf("feature %q is not numeric", col)
		}
		features[i] = f
	}
	return features, nil
}

// displacement reads the sensor displacement column; an absent column
// reads as 0 and an empty cell as NaN.
func displacement(row dataset.Row, col string) (float64, error) {
	v, ok := row.Get(col)
	if !ok {
		return 0, nil
	}
	f, ok := row.Float(col)
	if !ok {
		return 0, fmt.Errorf("displacement %v is not numeric", v)
	}
	return f, nil
}

// regressionWindow returns up to size rows ending at index, clamped at the
// start of the dataset. Text cells become NaN.
func regressionWindow(data Dataset, index, size int) ([][]float64, error) {
	if size < 1 {
		size = 1
	}
	start := max(0, index-(size-1))

	window := make([][]float64, 0, index-start+1)
	for i := start; i <= index; i++ {
		row, err := data.Row(i)
		if err != nil {
			return nil, err
		}
		window = append(window, row.Floats())
	}
	return window, nil
}
