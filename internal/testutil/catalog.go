package testutil

import "github.com/roach88/stockline/internal/domain"

// Catalog returns a fresh copy of the product catalog shared by package
// tests. Three products match "sensor"; prices are in minor units.
func Catalog() []domain.Product {
	return []domain.Product{
		{ID: "p1", SKU: "CP-1001", Name: "Temperature Sensor PT100", Vendor: "Crystal", Units: "pcs", UnitPrice: 125000, Stock: 40, ReorderLevel: 10},
		{ID: "p2", SKU: "CP-1002", Name: "Pressure Sensor 4-20mA", Vendor: "Crystal", Units: "pcs", UnitPrice: 89000, Stock: 12, ReorderLevel: 15},
		{ID: "p3", SKU: "CP-1003", Name: "Proximity Sensor M12", Vendor: "Crystal", Units: "pcs", UnitPrice: 45000, Stock: 7},
		{ID: "p4", SKU: "CP-2001", Name: "Ball Valve 2 inch", Vendor: "Hydra", Units: "nos", UnitPrice: 2500, Stock: 30},
		{ID: "p5", SKU: "CP-2002", Name: "Gate Valve 3 inch", Vendor: "Hydra", Units: "nos", UnitPrice: 7800, Stock: 4},
		{ID: "p6", SKU: "CP-3001", Name: "Centrifugal Pump", Vendor: "Hydra", Units: "nos", UnitPrice: 1500000, Stock: 2, ReorderLevel: 1},
	}
}
