package database

import (
	"fmt"

	"github.com/google/uuid"
)

func generateID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate image id: %w", err)
	}
	return id.String(), nil
}
