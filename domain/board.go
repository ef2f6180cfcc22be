package domain

// Board is a named collection of tasks.
type Board struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	OwnerID     int64     `json:"owner_id"`
	IsPublic    bool      `json:"is_public"`
	CreatedAt   Timestamp `json:"created_at"`
	UpdatedAt   Timestamp `json:"updated_at"`
	Tasks       []Task    `json:"tasks"`
}

// NewTask carries the fields of a durable create request.
type NewTask struct {
	BoardID     int64      `json:"board_id"`
	Title       string     `json:"title"`
	Description *string    `json:"description,omitempty"`
	AssignedTo  *string    `json:"assigned_to,omitempty"`
	Status      TaskStatus `json:"status"`
	Position    int        `json:"position,omitempty"`
}

// TaskPatch is a partial update. Nil fields are left untouched.
type TaskPatch struct {
	Title       *string     `json:"title,omitempty"`
	Description *string     `json:"description,omitempty"`
	Status      *TaskStatus `json:"status,omitempty"`
	Position    *int        `json:"position,omitempty"`
	AssignedTo  *string     `json:"assigned_to,omitempty"`
}
