package indexing

type HistoryQuery struct {
	Limit  int    `query:"limit" json:"limit,omitempty" default:"20" validate:"min=1,max=100"`
	Offset int    `query:"offset" json:"offset,omitempty" validate:"min=0"`
	Status string `query:"status" json:"status,omitempty" mod:"trim,lcase" validate:"omitempty,oneof=pending processing completed failed rolled_back"`
	Since  string `query:"since" json:"since,omitempty" mod:"trim" validate:"date"`
}

type BatchParams struct {
	ID string `param:"id" mod:"trim" validate:"batch_id"`
}
