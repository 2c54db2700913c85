package gspn

// LogRow is one interaction entry from the service-order log table.
// Rows are read-only and fetched fresh on every pass.
type LogRow struct {
	// SeqNo identifies the entry within its order. A value of 0 means the
	// source row carried no sequence number and must not be propagated.
	SeqNo            int64
	OrderKey         string
	ChangedDate      string // 8-digit YYYYMMDD
	ChangedTime      string // 6-digit HHMMSS
	ChangedBy        string
	Comment          string
	StatusDesc       string
	StatusReasonDesc string
}

// OrderDetail is one row of the service-order detail join. The join can
// fan out; callers take the first row as authoritative.
type OrderDetail struct {
	OrderKey          string
	AscJobNo          string
	ServiceTypeDesc   string
	WarrantyType      string
	Product           string
	IrisRepair        string
	WarrantyException string
	CompleteDate      string
	Model             string
	SerialNo          string
	DefectDesc        string
}
