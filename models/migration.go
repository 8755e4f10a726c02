package models

import (
	"log"

	"bitbucket.org/mmdatafocus/etims_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&EtimsSettings{},
		&RequestLog{},
		&SalesInvoice{}, &SalesInvoiceLine{}, &SalesInvoiceTax{},
		&Item{}, &TaxTemplate{},
		&Partner{},
		&SladeMapping{},
		&RegisteredPurchase{}, &RegisteredPurchaseItem{},
		&StockAdjustment{}, &StockAdjustmentLine{},
		&EtimsNotice{},
		&BackgroundJob{},
		&IdempotencyKey{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
