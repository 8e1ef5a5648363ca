package modelmap

import "fmt"

func key(ordinal int) PropertyMapping {
	return PropertyMapping{Property: "uid", Column: "uid", Label: "UID", Type: TypeText, Ordinal: ordinal}
}

func parentRef(ordinal int) PropertyMapping {
	return PropertyMapping{Property: "genericUid", Column: "generic_uid", Label: "Generic UID", Type: TypeText, Ordinal: ordinal}
}

func prop(ordinal int, property, column, label string, typ PropertyType) PropertyMapping {
	return PropertyMapping{
		Property: property,
		Column:   column,
		Label:    label,
		Type:     typ,
		Visible:  true,
		Editable: true,
		Ordinal:  ordinal,
	}
}

func readOnly(p PropertyMapping) PropertyMapping {
	p.Editable = false
	return p
}

var entityDefinitions = []EntityMapping{
	{
		Type:            GenericDrug,
		TableName:       "generic_drugs",
		KeyField:        "uid",
		DisplayProperty: "genericName",
		Properties: []PropertyMapping{
			key(0),
			prop(1, "genericName", "generic_name", "Generic Name", TypeText),
			prop(2, "genericKey", "generic_key", "Generic Key", TypeText),
			prop(3, "biologic", "biologic", "Biologic", TypeText),
			prop(4, "mechOfAction", "mech_of_action", "Mechanism of Action", TypeText),
			prop(5, "classOrType", "class_or_type", "Class / Type", TypeText),
			prop(6, "target", "target", "Target", TypeText),
			readOnly(prop(7, "createdAt", "created_at", "Created", TypeDate)),
			readOnly(prop(8, "updatedAt", "updated_at", "Updated", TypeDate)),
		},
		Aggregates: []AggregateType{GenericAlias, GenericRoute, GenericApproval},
		Children:   []EntityType{ManuDrug},
	},
	{
		Type:            ManuDrug,
		TableName:       "manu_drugs",
		KeyField:        "uid",
		DisplayProperty: "drugName",
		ParentType:      GenericDrug,
		ParentKey:       "generic_uid",
		Properties: []PropertyMapping{
			key(0),
			parentRef(1),
			prop(2, "drugName", "drug_name", "Drug Name", TypeText),
			prop(3, "manuDrugKey", "manu_drug_key", "Manufactured Drug Key", TypeText),
			prop(4, "manufacturer", "manufacturer", "Manufacturer", TypeText),
			prop(5, "brandKey", "brandkey", "Brand Key", TypeText),
			prop(6, "biosimilar", "biosimilar", "Biosimilar", TypeBoolean),
			prop(7, "biosimilarSuffix", "biosimilar_suffix", "Biosimilar Suffix", TypeText),
			prop(8, "biosimilarOriginator", "biosimilar_originator", "Biosimilar Originator", TypeText),
			readOnly(prop(9, "createdAt", "created_at", "Created", TypeDate)),
			readOnly(prop(10, "updatedAt", "updated_at", "Updated", TypeDate)),
		},
	},
}

var aggregateDefinitions = []AggregateMapping{
	{
		Type:       GenericAlias,
		TableName:  "generic_aliases",
		KeyField:   "uid",
		ForeignKey: "generic_uid",
		ParentType: GenericDrug,
		Properties: []PropertyMapping{
			key(0),
			parentRef(1),
			prop(2, "alias", "alias", "Alias", TypeText),
		},
	},
	{
		Type:       GenericRoute,
		TableName:  "generic_routes",
		KeyField:   "uid",
		ForeignKey: "generic_uid",
		ParentType: GenericDrug,
		Properties: []PropertyMapping{
			key(0),
			parentRef(1),
			prop(2, "routeType", "route_type", "Route", TypeText),
			prop(3, "loadDose", "load_dose", "Loading Dose", TypeNumber),
			prop(4, "loadMeasure", "load_measure", "Loading Measure", TypeText),
			prop(5, "maintainDose", "maintain_dose", "Maintenance Dose", TypeNumber),
			prop(6, "maintainMeasure", "maintain_measure", "Maintenance Measure", TypeText),
			prop(7, "monotherapy", "monotherapy", "Monotherapy", TypeBoolean),
			prop(8, "halfLife", "half_life", "Half Life", TypeText),
		},
	},
	{
		Type:       GenericApproval,
		TableName:  "generic_approvals",
		KeyField:   "uid",
		ForeignKey: "generic_uid",
		ParentType: GenericDrug,
		Properties: []PropertyMapping{
			key(0),
			parentRef(1),
			prop(2, "routeType", "route_type", "Route", TypeText),
			prop(3, "country", "country", "Country", TypeText),
			prop(4, "indication", "indication", "Indication", TypeText),
			prop(5, "populations", "populations", "Populations", TypeText),
			prop(6, "approvalDate", "approval_date", "Approval Date", TypeDate),
			prop(7, "boxWarning", "box_warning", "Boxed Warning", TypeText),
			prop(8, "boxWarningDate", "box_warning_date", "Boxed Warning Date", TypeDate),
		},
	},
}

var theModelMap = mustBuild()

func mustBuild() *ModelMap {
	m, err := New(entityDefinitions, aggregateDefinitions)
	if err != nil {
		panic(fmt.Sprintf("modelmap: invalid built-in definitions: %v", err))
	}
	return m
}

// Default returns the built-in pharmaceutical model map.
func Default() *ModelMap {
	return theModelMap
}
