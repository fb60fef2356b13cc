package wbxml

// Package-level token table: a compile-time mapping between the numeric
// (page, tag) pairs that appear on the wire and the symbolic element
// names used everywhere else in this module. Grounded on the map-of-maps
// CodeSpace/CodePage shape in gleroi-wbxml/wbxml.go, generalized to the
// full set of EAS code pages named in spec.md §3/§6.
//
// This table is authoritative for interop: a misnamed entry here
// corrupts the wire for every collection that touches the affected page.
// It must be kept frozen against the published EAS WBXML code page
// tables ([MS-ASWBXML]).

// Page is a code page number (0..17, not all assigned).
type Page byte

// Code pages used by this module. Unassigned pages from the EAS family
// (3 Exchange-deprecated, 10 Tasks2, 11 AirSyncBase-deprecated,
// 15 Settings, 18 Search, 19 GAL-deprecated, 20 AirSyncBase2, 21
// Settings2, 22 Bodypart2, 23 Find) are not represented — no component
// in SPEC_FULL.md exercises them.
const (
	PageAirSync         Page = 0
	PageContacts        Page = 1
	PageEmail           Page = 2
	PageCalendar        Page = 4
	PageMove            Page = 5
	PageItemEstimate    Page = 6
	PageFolderHierarchy Page = 7
	PageMeetingResponse Page = 8
	PageTasks           Page = 9
	PageContacts2       Page = 12
	PagePing            Page = 13
	PageProvision       Page = 14
	PageGAL             Page = 16
	PageAirSyncBase     Page = 17
)

// pageNames gives each Page a short label for logging/trace output.
var pageNames = map[Page]string{
	PageAirSync:         "AirSync",
	PageContacts:        "Contacts",
	PageEmail:           "Email",
	PageCalendar:        "Calendar",
	PageMove:            "Move",
	PageItemEstimate:    "ItemEstimate",
	PageFolderHierarchy: "FolderHierarchy",
	PageMeetingResponse: "MeetingResponse",
	PageTasks:           "Tasks",
	PageContacts2:       "Contacts2",
	PagePing:            "Ping",
	PageProvision:       "Provision",
	PageGAL:             "GAL",
	PageAirSyncBase:     "AirSyncBase",
}

// String returns the page's short label, or a synthetic "page_N" for an
// unassigned page number.
func (p Page) String() string {
	if name, ok := pageNames[p]; ok {
		return name
	}
	return "page_" + itoa(int(p))
}

// TokenId is a 16-bit value: the high 10 bits are the page number, the
// low 6 bits are the tag-within-page number (5..63; 0..4 are the global
// tokens SWITCH_PAGE/END/ENTITY/STR_I/LITERAL and never appear here).
type TokenId uint16

// NewTokenId packs a page and a tag-within-page number into a TokenId.
func NewTokenId(page Page, tag byte) TokenId {
	return TokenId(uint16(page)<<6 | uint16(tag&0x3F))
}

// Page returns the code page this token was read under.
func (t TokenId) Page() Page { return Page(t >> 6) }

// Tag returns the tag-within-page number (5..63).
func (t TokenId) Tag() byte { return byte(t & 0x3F) }

// codePage maps tag-within-page numbers (5..63) to symbolic names for
// one code page.
type codePage map[byte]string

// table is the full page -> tag -> name mapping.
type table map[Page]codePage

// tokenTable is the single frozen instance consulted by the Decoder (for
// TokenId -> name) and Encoder (for name -> TokenId).
var tokenTable = table{
	PageAirSync: {
		5: "Sync", 6: "Responses", 7: "Add", 8: "Change", 9: "Delete",
		10: "Fetch", 11: "SyncKey", 12: "ServerId", 13: "Status",
		14: "Collection", 15: "Class", 16: "Version", 17: "CollectionId",
		18: "GetChanges", 19: "MoreAvailable", 20: "WindowSize",
		21: "Commands", 22: "Options", 23: "FilterType", 24: "Truncation",
		25: "RTFTruncation", 26: "Conflict", 27: "Collections",
		28: "ApplicationData", 29: "DeletesAsMoves", 30: "NotifyGUID",
		31: "Supported", 32: "SoftDelete", 33: "MIMESupport",
		34: "MIMETruncation", 35: "Wait", 36: "Limit", 37: "Partial",
		38: "ConversationMode", 39: "MaxItems", 40: "HeartbeatInterval",
	},
	PageContacts: {
		5: "Anniversary", 6: "AssistantName", 7: "AssistantPhoneNumber",
		8: "Birthday", 12: "Business2PhoneNumber", 13: "BusinessAddressCity",
		14: "BusinessAddressCountry", 15: "BusinessAddressPostalCode",
		16: "BusinessAddressState", 17: "BusinessAddressStreet",
		18: "BusinessFaxNumber", 19: "BusinessPhoneNumber",
		20: "CarPhoneNumber", 21: "Categories", 22: "Category",
		25: "CompanyName", 26: "Department", 27: "Email1Address",
		28: "Email2Address", 29: "Email3Address", 30: "FileAs",
		31: "FirstName", 32: "Home2PhoneNumber", 33: "HomeAddressCity",
		34: "HomeAddressCountry", 35: "HomeAddressPostalCode",
		36: "HomeAddressState", 37: "HomeAddressStreet",
		38: "HomeFaxNumber", 39: "HomePhoneNumber", 40: "JobTitle",
		41: "LastName", 42: "MiddleName", 43: "MobilePhoneNumber",
		44: "OfficeLocation", 45: "OtherAddressCity",
		46: "OtherAddressCountry", 47: "OtherAddressPostalCode",
		48: "OtherAddressState", 49: "OtherAddressStreet",
		50: "PagerNumber", 51: "RadioPhoneNumber", 52: "Spouse",
		53: "Suffix", 54: "Title", 55: "WebPage", 56: "YomiCompanyName",
		57: "YomiFirstName", 58: "YomiLastName", 60: "Picture",
		61: "Alias", 62: "WeightedRank",
	},
	PageEmail: {
		5: "Attachment", 6: "Attachments", 7: "AttName", 8: "AttSize",
		9: "Att0Id", 10: "AttMethod", 11: "AttRemoved", 12: "Body",
		13: "BodySize", 14: "BodyTruncated", 15: "DateReceived",
		16: "DisplayName", 17: "DisplayTo", 18: "Importance",
		19: "MessageClass", 20: "Subject", 21: "Read", 22: "To",
		23: "Cc", 24: "From", 25: "ReplyTo", 26: "AllDayEvent",
		27: "Categories", 28: "Category", 29: "DTStamp", 30: "EndTime",
		31: "InstanceType", 32: "BusyStatus", 33: "Location",
		34: "MeetingRequest", 35: "Organizer", 36: "RecurrenceId",
		37: "Reminder", 38: "ResponseRequested", 39: "Recurrences",
		40: "Recurrence", 41: "Recurrence_Type", 42: "Recurrence_Until",
		43: "Recurrence_Occurrences", 44: "Recurrence_Interval",
		45: "Recurrence_DayOfWeek", 46: "Recurrence_DayOfMonth",
		47: "Recurrence_WeekOfMonth", 48: "Recurrence_MonthOfYear",
		49: "StartTime", 50: "Sensitivity", 51: "TimeZone",
		52: "GlobalObjId", 53: "ThreadTopic", 54: "MIMEData",
		55: "MIMETruncated", 56: "MIMESize", 57: "InternetCPID",
		58: "Flag", 59: "FlagStatus", 60: "ContentClass",
		61: "FlagType", 62: "CompleteTime", 63: "DisallowNewTimeProposal",
	},
	PageCalendar: {
		5: "TimeZone", 6: "AllDayEvent", 7: "Attendees", 8: "Attendee",
		9: "Attendee_Email", 10: "Attendee_Name", 11: "BusyStatus",
		12: "Categories", 13: "Category", 14: "Compressed_RTF",
		15: "DTStamp", 16: "EndTime", 17: "Exception", 18: "Exceptions",
		19: "Exception_Deleted", 20: "Exception_StartTime", 21: "Location",
		22: "MeetingStatus", 23: "Organizer_Email", 24: "Organizer_Name",
		25: "Recurrence", 26: "Recurrence_Type", 27: "Recurrence_Until",
		28: "Recurrence_Occurrences", 29: "Recurrence_Interval",
		30: "Recurrence_DayOfWeek", 31: "Recurrence_DayOfMonth",
		32: "Recurrence_WeekOfMonth", 33: "Recurrence_MonthOfYear",
		34: "Reminder", 35: "Sensitivity", 36: "Subject", 37: "StartTime",
		38: "UID", 39: "Attendee_Status", 40: "Attendee_Type",
		42: "DisallowNewTimeProposal", 43: "ResponseRequested",
		44: "AppointmentReplyTime", 45: "ResponseType",
		46: "CalendarType", 47: "IsLeapMonth", 48: "FirstDayOfWeek",
		49: "OnlineMeetingConfLink", 50: "OnlineMeetingExternalLink",
	},
	PageMove: {
		5: "MoveItems", 6: "Move", 7: "SrcMsgId", 8: "SrcFldId",
		9: "DstFldId", 10: "Response", 11: "Status", 12: "DstMsgId",
	},
	PageItemEstimate: {
		5: "GetItemEstimate", 6: "Version", 7: "Collections",
		8: "Collection", 9: "Class", 10: "CollectionId", 11: "DateTime",
		12: "Estimate", 13: "Response", 14: "Status",
	},
	PageFolderHierarchy: {
		5: "Folders", 6: "Folder", 7: "DisplayName", 8: "ServerId",
		9: "ParentId", 10: "Type", 12: "Status", 13: "ContentClass",
		14: "Changes", 15: "Add", 16: "Delete", 17: "Update",
		18: "SyncKey", 19: "FolderCreate", 20: "FolderDelete",
		21: "FolderUpdate", 22: "FolderSync", 23: "Count", 24: "Version",
	},
	PageMeetingResponse: {
		5: "CalendarId", 6: "CollectionId", 7: "MeetingResponse",
		8: "RequestId", 9: "Request", 10: "Result", 11: "Status",
		12: "UserResponse", 13: "Version", 15: "InstanceId",
	},
	PageTasks: {
		5: "Body", 6: "BodySize", 7: "BodyTruncated", 8: "Categories",
		9: "Category", 10: "Complete", 11: "DateCompleted", 12: "DueDate",
		13: "UtcDueDate", 14: "Importance", 15: "Recurrence",
		16: "Recurrence_Type", 17: "Recurrence_Start",
		18: "Recurrence_Until", 19: "Recurrence_Occurrences",
		20: "Recurrence_Interval", 21: "Recurrence_DayOfMonth",
		22: "Recurrence_DayOfWeek", 23: "Recurrence_MonthOfYear",
		24: "Recurrence_Regenerate", 25: "Recurrence_DeadOccur",
		26: "ReminderSet", 27: "ReminderTime", 28: "Sensitivity",
		29: "StartDate", 30: "UtcStartDate", 31: "Subject", 32: "Alarm",
	},
	PageContacts2: {
		5: "CustomerId", 6: "GovernmentId", 7: "IMAddress",
		8: "IMAddress2", 9: "IMAddress3", 10: "ManagerName",
		11: "CompanyMainPhone", 12: "AccountName", 13: "NickName",
		14: "MMS",
	},
	PagePing: {
		5: "Ping", 6: "AutdState", 7: "Status", 8: "HeartbeatInterval",
		9: "Folders", 10: "Folder", 11: "Id", 12: "Class", 13: "MaxFolders",
	},
	PageProvision: {
		5: "Provision", 6: "Policies", 7: "Policy", 8: "PolicyType",
		9: "PolicyKey", 10: "Data", 11: "Status", 12: "RemoteWipe",
		13: "EASProvisionDoc", 14: "DevicePasswordEnabled",
		15: "AlphanumericDevicePasswordRequired",
		16: "DeviceEncryptionEnabled", 17: "PasswordRecoveryEnabled",
		18: "AttachmentsEnabled", 19: "MinDevicePasswordLength",
		20: "MaxInactivityTimeDeviceLock", 21: "MaxDevicePasswordFailedAttempts",
		22: "MaxAttachmentSize", 23: "AllowSimpleDevicePassword",
		24: "DevicePasswordExpiration", 25: "DevicePasswordHistory",
	},
	PageGAL: {
		5: "DisplayName", 6: "Phone", 7: "Office", 8: "Title",
		9: "Company", 10: "Alias", 11: "FirstName", 12: "LastName",
		13: "HomePhone", 14: "MobilePhone", 15: "EmailAddress",
	},
	PageAirSyncBase: {
		5: "BodyPreference", 6: "Type", 7: "TruncationSize",
		8: "AllOrNone", 10: "Body", 11: "Data", 12: "EstimatedDataSize",
		13: "Truncated", 14: "Attachments", 15: "Attachment",
		16: "DisplayName", 17: "FileReference", 18: "Method",
		19: "ContentId", 20: "ContentLocation", 21: "IsInline",
		22: "NativeBodyType", 23: "ContentType", 24: "Preview",
		25: "BodyPartPreference", 26: "BodyPart", 27: "Status",
	},
}

// reverseTable is the name -> TokenId index built once at init for the
// Encoder's start(name)/data(name,...) calls.
var reverseTable = func() map[string]TokenId {
	m := make(map[string]TokenId)
	for page, tags := range tokenTable {
		for tag, name := range tags {
			m[name] = NewTokenId(page, tag)
		}
	}
	return m
}()

// NameOf returns the symbolic name for a TokenId, or a synthetic
// "page_N:tag_M" for an unrecognized tag. Unknown tags are never an
// error — spec.md requires unknown content to be skippable, and logging
// (or a test failure) is how an implementer notices a table gap, not a
// panic at decode time.
func NameOf(t TokenId) string {
	if tags, ok := tokenTable[t.Page()]; ok {
		if name, ok := tags[t.Tag()]; ok {
			return name
		}
	}
	return "page_" + itoa(int(t.Page())) + ":tag_" + itoa(int(t.Tag()))
}

// TokenFor returns the TokenId for a symbolic tag name, used by the
// Encoder to resolve start(name) calls.
func TokenFor(name string) (TokenId, bool) {
	t, ok := reverseTable[name]
	return t, ok
}

// itoa avoids pulling in strconv for this one call site's worth of use;
// kept trivial and allocation-light since it's only used for the
// unknown-tag fallback name.
func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
