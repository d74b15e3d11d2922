package sequence

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

func TestNextSequence(t *testing.T) {
	tests := []struct {
		name    string
		group   string
		setup   func(mock pgxmock.PgxPoolIface)
		want    int64
		wantErr error
	}{
		{
			name:  "increments the group counter",
			group: "g1",
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`INSERT INTO event_sequence`).
					WithArgs("g1").
					WillReturnRows(pgxmock.NewRows([]string{"last_sequence"}).AddRow(int64(4)))
			},
			want: 4,
		},
		{
			name:    "requires a group",
			group:   "",
			setup:   func(pgxmock.PgxPoolIface) {},
			wantErr: ErrEmptyPartition,
		},
		{
			name:  "wraps database errors",
			group: "g2",
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`INSERT INTO event_sequence`).
					WithArgs("g2").
					WillReturnError(errDB)
			},
			wantErr: errDB,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()
			tt.setup(mock)

			seq, err := NewRepository(mock).NextSequence(context.Background(), tt.group)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				require.Equal(t, tt.want, seq)
			}
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

var errDB = errors.New("connection reset")
