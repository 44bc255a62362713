package services

import (
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"encuestas/backend/models"
)

// Audit records an administrative action. Best-effort: a failed audit write
// never fails the operation it describes.
func Audit(db *gorm.DB, actorID uuid.UUID, action string, detail any) {
	blob, err := json.Marshal(detail)
	if err != nil {
		blob = nil
	}
	db.Create(&models.AuditLog{
		ActorID: actorID,
		Action:  action,
		Detail:  datatypes.JSON(blob),
	})
}
