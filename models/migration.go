package models

import (
	"log"

	"bitbucket.org/mmdatafocus/audit_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&ExtendedTrialBalance{}, &ETBRow{},
		&Journal{}, &JournalEntry{},
		&History{},
		&ReviewEventRecord{},
		&User{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
