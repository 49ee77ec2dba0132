package model

import (
	"fmt"
	"time"
)

// Disaster is one stored declaration row. FEMAID is the dedup key: a load
// never leaves two rows with the same value.
type Disaster struct {
	ID                int64      `gorm:"primaryKey;autoIncrement"`
	DisasterNumber    int        `gorm:"not null"`
	State             string     `gorm:"type:varchar(2)"`
	DeclarationDate   time.Time  `gorm:"type:date"`
	IncidentType      string     `gorm:"type:varchar(20)"`
	Title             string     `gorm:"type:varchar(100)"`
	IncidentBeginDate time.Time  `gorm:"type:date"`
	IncidentEndDate   *time.Time `gorm:"type:date"`
	County            *string    `gorm:"type:varchar(100)"` // NULL unless the area was a county
	LastRefresh       time.Time  `gorm:"type:date"`
	FEMAID            string     `gorm:"column:fema_id;type:varchar(64);uniqueIndex;not null"`
}

func (Disaster) TableName() string {
	return "disasters"
}

func (d Disaster) String() string {
	return fmt.Sprintf("<Disaster id=%d type=%s title=%s state=%s date=%s>",
		d.ID, d.IncidentType, d.Title, d.State, d.DeclarationDate.Format(time.DateOnly))
}
