package dataverse

// Time entry entity and attribute logical names.
const (
	EntityName       = "msdyn_timeentry"
	EntitySetName    = "msdyn_timeentries"
	TimeEntryID      = "msdyn_timeentryid"
	Start            = "msdyn_start"
	End              = "msdyn_end"
	Duration         = "msdyn_duration"
	BookableResource = "msdyn_bookableresource"
	Description      = "msdyn_description"

	// bookableResourceValue is the lookup column exposed for filtering.
	bookableResourceValue = "_msdyn_bookableresource_value"
	// bookableResourceBind binds the lookup on create.
	bookableResourceBind = BookableResource + "@odata.bind"
)
