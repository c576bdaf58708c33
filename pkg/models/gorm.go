package models

func ModelsToAutoMigrate() []interface{} {
	return []interface{}{
		&Resource{}, // Must be first - chunks reference it
		&Chunk{},
	}
}
