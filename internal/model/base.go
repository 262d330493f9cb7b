package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// BeneficiaryType identifies the kind of person a schedule tracks.
type BeneficiaryType string

const (
	BeneficiaryTypeMother BeneficiaryType = "mother"
	BeneficiaryTypeChild  BeneficiaryType = "child"
	BeneficiaryTypeElco   BeneficiaryType = "elco"
)

// JSONMap represents a generic JSON object stored in a jsonb column.
type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(src interface{}) error {
	if src == nil {
		*m = nil
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into JSONMap", src)
	}
	return json.Unmarshal(b, m)
}
