package enginerunner

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRewriteForReadParquetReplacesBareTableReference(t *testing.T) {
	t.Parallel()
	out, err := rewriteForReadParquet("SELECT * FROM events WHERE region = 'us'", "events",
		[]PartitionGroup{
			{Path: "/data/events/dt=2024-01-01", Key: "dt", Value: "2024-01-01"},
			{Path: "/data/events/dt=2024-01-02", Key: "dt", Value: "2024-01-02"},
		}, "parquet")
	require.NoError(t, err)
	require.Contains(t, out, "read_parquet([")
	require.Contains(t, out, "'/data/events/dt=2024-01-01/*.parquet'")
	require.Contains(t, out, "'/data/events/dt=2024-01-02/*.parquet'")
	require.Contains(t, out, "union_by_name=true")
	require.Contains(t, out, "hive_partitioning=true")
	require.Contains(t, out, "AS events")
	require.NotContains(t, out, "FROM events ")
}

func TestRewriteForReadParquetHonorsConfiguredExtension(t *testing.T) {
	t.Parallel()
	out, err := rewriteForReadParquet("SELECT * FROM events", "events",
		[]PartitionGroup{{Path: "/data/events/dt=2024-01-01", Key: "dt", Value: "2024-01-01"}}, "pq")
	require.NoError(t, err)
	require.Contains(t, out, "'/data/events/dt=2024-01-01/*.pq'")
}

func TestRewriteForReadParquetErrorsOnNoPartitions(t *testing.T) {
	t.Parallel()
	_, err := rewriteForReadParquet("SELECT * FROM events", "events", nil, "parquet")
	require.Error(t, err)
}

func TestRewriteForReadParquetErrorsWhenTableNotReferenced(t *testing.T) {
	t.Parallel()
	_, err := rewriteForReadParquet("SELECT 1", "events",
		[]PartitionGroup{{Path: "/data/events/dt=2024-01-01", Key: "dt", Value: "2024-01-01"}}, "parquet")
	require.Error(t, err)
}

func TestRewriteForReadParquetEscapesSingleQuotes(t *testing.T) {
	t.Parallel()
	out, err := rewriteForReadParquet("SELECT * FROM events", "events",
		[]PartitionGroup{{Path: "/data/o'brien/dt=2024-01-01", Key: "dt", Value: "2024-01-01"}}, "parquet")
	require.NoError(t, err)
	require.Contains(t, out, `o''brien`)
}

func TestRewriteForClickHouseFileInjectsPartitionColumnPerGroup(t *testing.T) {
	t.Parallel()
	out, err := rewriteForClickHouseFile("SELECT * FROM events WHERE dt = '2024-01-01'", "events",
		[]PartitionGroup{
			{Path: "/data/events/dt=2024-01-01", Key: "dt", Value: "2024-01-01"},
			{Path: "/data/events/dt=2024-01-02", Key: "dt", Value: "2024-01-02"},
		}, "parquet")
	require.NoError(t, err)
	require.Contains(t, out, "SELECT *, '2024-01-01' AS dt FROM file('/data/events/dt=2024-01-01/*.parquet', 'Parquet')")
	require.Contains(t, out, "SELECT *, '2024-01-02' AS dt FROM file('/data/events/dt=2024-01-02/*.parquet', 'Parquet')")
	require.Contains(t, out, " UNION ALL ")
	require.Contains(t, out, "AS events")
}

func TestRewriteForClickHouseFileHonorsConfiguredExtension(t *testing.T) {
	t.Parallel()
	out, err := rewriteForClickHouseFile("SELECT * FROM events", "events",
		[]PartitionGroup{{Path: "/data/events/dt=2024-01-01", Key: "dt", Value: "2024-01-01"}}, "pq")
	require.NoError(t, err)
	require.Contains(t, out, "file('/data/events/dt=2024-01-01/*.pq', 'Parquet')")
}

func TestRewriteForClickHouseFileEscapesSingleQuotesInValue(t *testing.T) {
	t.Parallel()
	out, err := rewriteForClickHouseFile("SELECT * FROM events", "events",
		[]PartitionGroup{{Path: "/data/events/region=o'brien", Key: "region", Value: "o'brien"}}, "parquet")
	require.NoError(t, err)
	require.Contains(t, out, `'o''brien' AS region`)
}

func TestRewriteForClickHouseFileErrorsOnNoPartitions(t *testing.T) {
	t.Parallel()
	_, err := rewriteForClickHouseFile("SELECT * FROM events", "events", nil, "parquet")
	require.Error(t, err)
}

func TestTableRefPatternIsCaseInsensitiveAndWordBounded(t *testing.T) {
	t.Parallel()
	re := tableRefPattern("events")
	require.True(t, re.MatchString("select * from EVENTS"))
	require.True(t, re.MatchString("select * FROM events"))
	require.False(t, re.MatchString("select * from events_archive"))
}

func TestSplitIntoGroupsRoundRobinsAcrossWorkers(t *testing.T) {
	t.Parallel()
	partitions := []PartitionGroup{{Path: "a"}, {Path: "b"}, {Path: "c"}, {Path: "d"}, {Path: "e"}}
	groups := splitIntoGroups(partitions, 3)
	require.Len(t, groups, 3)
	require.Equal(t, []PartitionGroup{{Path: "a"}, {Path: "d"}}, groups[0])
	require.Equal(t, []PartitionGroup{{Path: "b"}, {Path: "e"}}, groups[1])
	require.Equal(t, []PartitionGroup{{Path: "c"}}, groups[2])
}

func TestSplitIntoGroupsClampsWorkersBelowOne(t *testing.T) {
	t.Parallel()
	partitions := []PartitionGroup{{Path: "a"}, {Path: "b"}}
	groups := splitIntoGroups(partitions, 0)
	require.Len(t, groups, 1)
	require.Equal(t, partitions, groups[0])
}

func TestSplitIntoGroupsHandlesMoreWorkersThanPaths(t *testing.T) {
	t.Parallel()
	groups := splitIntoGroups([]PartitionGroup{{Path: "a"}}, 4)
	require.Len(t, groups, 4)
	require.Equal(t, []PartitionGroup{{Path: "a"}}, groups[0])
	require.Empty(t, groups[1])
}
